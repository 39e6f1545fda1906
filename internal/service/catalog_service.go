package service

import (
	"context"
	"strings"

	"agstack-go/internal/model"
	"agstack-go/pkg/es"
)

const maxCatalogResults = 50

// CatalogService 在所有已编目的列中检索。
type CatalogService interface {
	Search(ctx context.Context, query string, size int) ([]model.CatalogHit, error)
}

type catalogService struct {
	catalog es.Catalog
}

// NewCatalogService 创建一个新的 CatalogService 实例。
func NewCatalogService(catalog es.Catalog) CatalogService {
	return &catalogService{catalog: catalog}
}

// Search 空查询返回空列表。
func (s *catalogService) Search(ctx context.Context, query string, size int) ([]model.CatalogHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.CatalogHit{}, nil
	}
	if size <= 0 || size > maxCatalogResults {
		size = maxCatalogResults
	}
	return s.catalog.Search(ctx, query, size)
}
