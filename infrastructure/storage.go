package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"resume-pipeline/domain"
)

// LocalStorage keeps uploaded files on the local filesystem under one root
// directory. Paths handed back to callers are relative to that root, so a
// stored path never escapes it.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// Save writes data under a fresh name and returns the storage path.
func (s *LocalStorage) Save(ctx context.Context, jobID string, data []byte) (string, error) {
	name := jobID
	if name == "" {
		name = uuid.NewString()
	}
	rel := filepath.Join(name[:2], name)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", rel, err)
	}
	return rel, nil
}

// FetchBytes loads a previously stored blob.
func (s *LocalStorage) FetchBytes(ctx context.Context, storagePath string) ([]byte, error) {
	clean := filepath.Clean(storagePath)
	if clean == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, domain.ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", storagePath, err)
	}
	return data, nil
}
