package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pdv-haver/internal/domain"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case Postgres:
		return Postgres, nil
	case SQLite:
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is the row-lock suffix; SQLite already serializes writers.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the obligation and receipt repositories over one handle.
// Inside WithinTx the handle is the transaction, so both repositories
// read and write through the same atomic unit.
type Store struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect Dialect
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) handle() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) Obligations() *ObligationRepository {
	return &ObligationRepository{q: s.handle(), dialect: s.dialect}
}

func (s *Store) Receipts() *ReceiptRepository {
	return &ReceiptRepository{q: s.handle(), dialect: s.dialect}
}

// WithinTx runs fn in a single transaction. Any error returned by fn rolls
// the whole unit back. Nested calls reuse the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Storage("failed to commit transaction", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// sqlDate stores calendar dates as YYYY-MM-DD in both dialects.
type sqlDate struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d sqlDate) Value() (driver.Value, error) {
	return d.Time.Format(dateLayout), nil
}

func (d *sqlDate) Scan(src any) error {
	t, err := parseTimeValue(src)
	if err != nil {
		return err
	}
	d.Time = domain.DateOnly(t)
	return nil
}

// sqlTime tolerates drivers that hand timestamps back as text.
type sqlTime struct {
	time.Time
}

func (t *sqlTime) Scan(src any) error {
	v, err := parseTimeValue(src)
	if err != nil {
		return err
	}
	t.Time = v.UTC()
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dateLayout,
}

func parseTimeValue(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", src)
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}
