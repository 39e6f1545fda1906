// Package storage 保存代码执行产出的 CSV 结果文件。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"agstack-go/internal/config"
	"agstack-go/internal/model"
)

// ErrArtifactNotFound 表示结果文件不存在。
var ErrArtifactNotFound = errors.New("artifact not found")

// ScopeEnv 是子进程中结果文件作用域的环境变量名。
const ScopeEnv = "AGSTACK_ARTIFACT_SCOPE"

// ArtifactStore 是一个按 scope 分区的扁平命名空间。每一轮对话使用独立的 scope。
type ArtifactStore interface {
	Put(ctx context.Context, scope, name string, r io.Reader) error
	Read(ctx context.Context, scope, name string) (*model.ResultTable, error)
	Delete(ctx context.Context, scope, name string) error
}

var scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NormalizeName 只保留文件名部分并补齐 .csv 后缀。
func NormalizeName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	if !strings.HasSuffix(strings.ToLower(base), ".csv") {
		base += ".csv"
	}
	return base, nil
}

func objectKey(scope, name string) (string, error) {
	if !scopePattern.MatchString(scope) {
		return "", fmt.Errorf("invalid artifact scope %q", scope)
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	return scope + "/" + normalized, nil
}

// Open 按 artifacts.backend 创建结果存储。
func Open(ctx context.Context, artifacts config.ArtifactsConfig, minioCfg config.MinIOConfig) (ArtifactStore, error) {
	switch artifacts.Backend {
	case "minio":
		return NewMinIOStore(ctx, minioCfg)
	case "local", "":
		return NewLocalStore(artifacts.Dir)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", artifacts.Backend)
	}
}
