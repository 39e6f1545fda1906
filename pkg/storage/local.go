package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"agstack-go/internal/model"
)

type localStore struct {
	dir string
}

// NewLocalStore 创建基于本地目录的结果存储。
func NewLocalStore(dir string) (ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) path(scope, name string) (string, error) {
	key, err := objectKey(scope, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// Put 先写临时文件再原子替换，同名文件被覆盖。
func (s *localStore) Put(_ context.Context, scope, name string, r io.Reader) error {
	path, err := s.path(scope, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *localStore) Read(_ context.Context, scope, name string) (*model.ResultTable, error) {
	path, err := s.path(scope, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}

func (s *localStore) Delete(_ context.Context, scope, name string) error {
	path, err := s.path(scope, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	// 目录为空时一并删除
	_ = os.Remove(filepath.Dir(path))
	return nil
}
