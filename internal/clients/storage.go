package clients

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StorageClient keeps generated spreadsheets on local disk and serves them
// under PublicPrefix.
type StorageClient struct {
	BaseDir      string
	PublicPrefix string // e.g. "/files"
	BaseURL      string // optional scheme+host used to build absolute links
}

// NewLocalStorage creates baseDir when missing.
func NewLocalStorage(baseDir, publicPrefix, baseURL string) (*StorageClient, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if publicPrefix == "" {
		publicPrefix = "/files"
	}
	if !strings.HasPrefix(publicPrefix, "/") {
		publicPrefix = "/" + publicPrefix
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure storage dir %q: %w", baseDir, err)
	}

	return &StorageClient{
		BaseDir:      baseDir,
		PublicPrefix: strings.TrimSuffix(publicPrefix, "/"),
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Save writes data under a collision-free name and returns that name.
// The original file name is kept after the first underscore.
func (s *StorageClient) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fileName = filepath.Base(fileName)
	final := fmt.Sprintf("%s_%s", strings.ReplaceAll(uuid.NewString(), "-", ""), fileName)
	path := filepath.Join(s.BaseDir, final)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}

	return final, nil
}

// GetURL returns BaseURL+PublicPrefix/name, or a relative path without BaseURL.
func (s *StorageClient) GetURL(fileName string) string {
	return fmt.Sprintf("%s%s/%s", s.BaseURL, s.PublicPrefix, fileName)
}

func (s *StorageClient) URL(_ context.Context, fileName string) (string, error) {
	return s.GetURL(fileName), nil
}

// Path resolves a stored name to its file, refusing names that escape BaseDir.
func (s *StorageClient) Path(fileName string) (string, bool) {
	if fileName == "" || fileName != filepath.Base(fileName) {
		return "", false
	}
	path := filepath.Join(s.BaseDir, fileName)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// CleanupOlderThan deletes files in BaseDir older than d and returns how many went.
func (s *StorageClient) CleanupOlderThan(d time.Duration) (int, error) {
	now := time.Now()
	removed := 0
	err := filepath.WalkDir(s.BaseDir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) > d {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
