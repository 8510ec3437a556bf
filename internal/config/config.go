package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	SQLitePath string
}

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	URLTTL          time.Duration
}

type SettlementConfig struct {
	// OverpaymentPolicy is "return" (report the unused amount) or "reject".
	OverpaymentPolicy string
	LockTTL           time.Duration
	IdempotencyTTL    time.Duration
	BulkConcurrency   int
}

type AppConfig struct {
	Port     string
	Env      string
	LogLevel string

	Database   DatabaseConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	S3         S3Config
	Settlement SettlementConfig

	// ExportStorage selects where generated spreadsheets go: local or s3.
	ExportStorage     string
	ExportDir         string
	FilesPublicPrefix string
	ExternalURL       string
	ExportRetention   time.Duration

	CORSOrigins []string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() AppConfig {
	return AppConfig{
		Port:     getenv("APP_PORT", "8010"),
		Env:      getenv("APP_ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			SQLitePath: getenv("SQLITE_PATH", "./data/pdv.db"),
		},
		Postgres: PostgresConfig{
			Host:         getenv("PG_HOST", "127.0.0.1"),
			Port:         mustAtoi(getenv("PG_PORT", "5432")),
			User:         getenv("PG_USER", "pdv"),
			Password:     getenv("PG_PASSWORD", "pdv"),
			DBName:       getenv("PG_DB", "pdv"),
			SSLMode:      getenv("PG_SSLMODE", "disable"),
			MaxOpenConns: mustAtoi(getenv("PG_MAX_OPEN_CONNS", "30")),
			MaxIdleConns: mustAtoi(getenv("PG_MAX_IDLE_CONNS", "8")),
		},
		Redis: RedisConfig{
			Enabled:     mustBool(getenv("REDIS_ENABLED", "false")),
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "pdv_"),
		},
		S3: S3Config{
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "exports"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", ""),
			URLTTL:          mustDuration(getenv("S3_URL_TTL", "30m")),
		},
		Settlement: SettlementConfig{
			OverpaymentPolicy: strings.ToLower(getenv("OVERPAYMENT_POLICY", "return")),
			LockTTL:           mustDuration(getenv("LOCK_TTL", "10s")),
			IdempotencyTTL:    mustDuration(getenv("IDEMPOTENCY_TTL", "24h")),
			BulkConcurrency:   mustAtoi(getenv("BULK_CONCURRENCY", "1")),
		},
		ExportStorage:     strings.ToLower(getenv("EXPORT_STORAGE", "local")),
		ExportDir:         getenv("EXPORT_DIR", "./exports"),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),
		ExportRetention:   mustDuration(getenv("EXPORT_RETENTION", "30m")),
		CORSOrigins:       splitList(getenv("CORS_ORIGINS", "*")),
	}
}
