// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agstack-go/internal/config"
	"agstack-go/internal/model"
	"agstack-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Catalog 将已探测的列编入索引并提供全文检索。
type Catalog interface {
	IndexConnection(ctx context.Context, conn *model.DatabaseConnection) error
	DeleteConnection(ctx context.Context, connectionID uint) error
	Search(ctx context.Context, query string, size int) ([]model.CatalogHit, error)
}

const catalogMapping = `{
	"mappings": {
		"properties": {
			"doc_id": { "type": "keyword" },
			"connection_id": { "type": "long" },
			"connection_name": { "type": "keyword" },
			"schema_name": { "type": "keyword" },
			"table_name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"column_name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"data_type": { "type": "keyword" },
			"is_nullable": { "type": "boolean" },
			"samples": { "type": "text" }
		}
	}
}`

type esCatalog struct {
	client    *elasticsearch.Client
	indexName string
}

// NewCatalog 初始化 Elasticsearch 客户端并确保索引存在。
// 未配置地址时返回 NopCatalog。
func NewCatalog(esCfg config.ElasticsearchConfig) (Catalog, error) {
	if strings.TrimSpace(esCfg.Addresses) == "" {
		log.Info("未配置 Elasticsearch 地址，目录检索已关闭")
		return NopCatalog{}, nil
	}
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &esCatalog{client: client, indexName: esCfg.IndexName}
	if err := c.createIndexIfNotExists(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (c *esCatalog) createIndexIfNotExists(ctx context.Context) error {
	res, err := c.client.Indices.Exists([]string{c.indexName}, c.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = c.client.Indices.Create(
		c.indexName,
		c.client.Indices.Create.WithBody(strings.NewReader(catalogMapping)),
		c.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", c.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", c.indexName)
	return nil
}

// Documents 把一个连接的全部列展开为目录文档。
func Documents(conn *model.DatabaseConnection) []model.CatalogDocument {
	var docs []model.CatalogDocument
	for _, t := range conn.Tables {
		for _, col := range t.Columns {
			docs = append(docs, model.CatalogDocument{
				DocID:          fmt.Sprintf("%d/%s/%s/%s", conn.ID, conn.SchemaName, t.Name, col.ColumnName),
				ConnectionID:   conn.ID,
				ConnectionName: conn.ConnectionName,
				SchemaName:     conn.SchemaName,
				TableName:      t.Name,
				ColumnName:     col.ColumnName,
				DataType:       col.DataType,
				IsNullable:     col.IsNullable,
				Samples:        string(col.SampleValues),
			})
		}
	}
	return docs
}

// IndexConnection 通过 bulk 接口写入连接的所有列。
func (c *esCatalog) IndexConnection(ctx context.Context, conn *model.DatabaseConnection) error {
	docs := Documents(conn)
	if len(docs) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_index": c.indexName, "_id": doc.DocID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &body, Refresh: "true"}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引目录文档出错: %s", res.String())
		return errors.New("failed to index catalog")
	}
	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return err
	}
	if result.Errors {
		return errors.New("bulk index reported item errors")
	}
	log.Infof("[Catalog] indexed %d columns of connection %s", len(docs), conn.ConnectionName)
	return nil
}

// DeleteConnection 删除某连接的全部目录文档。
func (c *esCatalog) DeleteConnection(ctx context.Context, connectionID uint) error {
	query := map[string]any{"query": map[string]any{"term": map[string]any{"connection_id": connectionID}}}
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{c.indexName},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete catalog documents: %s", res.String())
	}
	return nil
}

// Search 在表名、列名与样本上做全文检索。
func (c *esCatalog) Search(ctx context.Context, query string, size int) ([]model.CatalogHit, error) {
	if size <= 0 {
		size = 20
	}
	esQuery := map[string]any{
		"size": size,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"table_name^3", "column_name^2", "samples", "connection_name"},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, err
	}
	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.indexName),
		c.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("catalog search: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Score  float64               `json:"_score"`
				Source model.CatalogDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, err
	}
	hits := make([]model.CatalogHit, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		hits = append(hits, model.CatalogHit{
			ConnectionName: h.Source.ConnectionName,
			SchemaName:     h.Source.SchemaName,
			TableName:      h.Source.TableName,
			ColumnName:     h.Source.ColumnName,
			DataType:       h.Source.DataType,
			Score:          h.Score,
		})
	}
	return hits, nil
}

// NopCatalog 在未配置 Elasticsearch 时使用。
type NopCatalog struct{}

func (NopCatalog) IndexConnection(context.Context, *model.DatabaseConnection) error { return nil }
func (NopCatalog) DeleteConnection(context.Context, uint) error                     { return nil }
func (NopCatalog) Search(context.Context, string, int) ([]model.CatalogHit, error) {
	return []model.CatalogHit{}, nil
}
