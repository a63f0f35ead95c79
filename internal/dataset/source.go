package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentsql/agentsql/internal/storage"
)

var ErrFileNotFound = errors.New("dataset file not found")

type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type DirSource struct {
	Root string
}

func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if strings.ContainsAny(name, `/\`) || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("invalid dataset file name: %q", name)
	}
	path := filepath.Join(s.Root, name)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %q: %w", path, ErrFileNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return file, nil
}

type ObjectSource struct {
	Store  storage.ObjectStore
	Prefix string
}

func (s ObjectSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	key, err := storage.DatasetObjectKey(s.Prefix, name)
	if err != nil {
		return nil, err
	}
	reader, err := s.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("get %q: %w", key, ErrFileNotFound)
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return reader, nil
}
