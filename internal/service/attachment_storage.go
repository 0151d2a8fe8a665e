package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStorage abstracts attachment destinations. Upload returns the location
// recorded as the attachment path: a filesystem path or a remote URL.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// LocalFileStorage writes attachments below a directory on local disk.
type LocalFileStorage struct {
	dir string
}

// NewLocalFileStorage creates a storage rooted at dir.
func NewLocalFileStorage(dir string) *LocalFileStorage {
	return &LocalFileStorage{dir: dir}
}

// Upload implements FileStorage. Only the base of name is used.
func (s *LocalFileStorage) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	target := filepath.Join(s.dir, filepath.Base(name))
	file, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create attachment file: %w", err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write attachment file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close attachment file: %w", err)
	}
	return target, nil
}
