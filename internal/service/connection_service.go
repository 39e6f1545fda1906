package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agstack-go/internal/model"
	"agstack-go/internal/repository"
	"agstack-go/pkg/es"
	"agstack-go/pkg/events"
	"agstack-go/pkg/kafka"
	"agstack-go/pkg/log"
	"agstack-go/pkg/prober"
	"agstack-go/pkg/secret"

	"gorm.io/datatypes"
)

// CreateConnectionRequest 是注册外部数据库的请求体。
type CreateConnectionRequest struct {
	ConnectionName string `json:"connection_name" binding:"required,max=255"`
	Host           string `json:"host" binding:"required"`
	Port           int    `json:"port" binding:"required,min=1,max=65535"`
	Username       string `json:"username" binding:"required"`
	Password       string `json:"password"`
	DatabaseName   string `json:"database_name" binding:"required"`
	SchemaName     string `json:"schema_name"`
}

// ConnectionResult 与前端约定的 {success, message, tables} 结构。
type ConnectionResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Tables  []string `json:"tables"`
}

// ConnectionService 定义了外部数据库连接相关的业务操作。
type ConnectionService interface {
	CreateConnection(ctx context.Context, req CreateConnectionRequest) (*ConnectionResult, error)
	ListConnections(ctx context.Context) ([]model.DatabaseConnection, error)
	DeleteConnection(ctx context.Context, id uint) (*ConnectionResult, error)
	ListTables(ctx context.Context, id uint) (*ConnectionResult, error)
	ListColumns(ctx context.Context, id uint, table string) ([]string, error)
	// Metadata 返回构造提示词所需的编目信息，优先读缓存。
	Metadata(ctx context.Context, conn *model.DatabaseConnection) (model.ConnectionMetadata, error)
	// Target 解密凭据，返回可直接连接的目标。
	Target(conn *model.DatabaseConnection) (prober.Target, error)
}

type connectionService struct {
	connRepo repository.ConnectionRepository
	prober   SchemaProber
	box      *secret.Box
	cache    repository.MetadataCache
	catalog  es.Catalog
	producer kafka.Producer
}

// NewConnectionService 创建一个新的 ConnectionService 实例。
func NewConnectionService(
	connRepo repository.ConnectionRepository,
	schemaProber SchemaProber,
	box *secret.Box,
	cache repository.MetadataCache,
	catalog es.Catalog,
	producer kafka.Producer,
) ConnectionService {
	return &connectionService{
		connRepo: connRepo,
		prober:   schemaProber,
		box:      box,
		cache:    cache,
		catalog:  catalog,
		producer: producer,
	}
}

// CreateConnection 完成一次注册：查重、探测、单事务持久化，然后做索引、缓存与事件这些尽力而为的步骤。
// 返回的 error 非空时 ConnectionResult 仍然携带给用户看的 message。
func (s *connectionService) CreateConnection(ctx context.Context, req CreateConnectionRequest) (*ConnectionResult, error) {
	if req.SchemaName == "" {
		req.SchemaName = model.DefaultSchema
	}

	// 1. 查重，重名时不触碰外部数据库
	exists, err := s.connRepo.ExistsByName(ctx, req.ConnectionName)
	if err != nil {
		return failed(fmt.Sprintf("Error checking connection: %v", err)), err
	}
	if exists {
		return failed(fmt.Sprintf("Connection with name '%s' already exists", req.ConnectionName)), repository.ErrDuplicateConnection
	}

	// 2. 在内存中完成全部探测
	log.Infof("[ConnectionService] probing %s (%s:%d/%s, schema %s)", req.ConnectionName, req.Host, req.Port, req.DatabaseName, req.SchemaName)
	result, err := s.prober.Probe(ctx, prober.Target{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Database: req.DatabaseName,
		Schema:   req.SchemaName,
	})
	if err != nil {
		log.Warnf("[ConnectionService] probe of %s failed: %v", req.ConnectionName, err)
		return failed(probeMessage(req, err)), err
	}

	// 3. 单事务持久化
	sealed, err := s.box.Seal(req.Password)
	if err != nil {
		return failed("Error saving connection"), fmt.Errorf("encrypt password: %w", err)
	}
	conn, err := buildConnection(req, sealed, result)
	if err != nil {
		return failed("Error saving connection"), err
	}
	if err := s.connRepo.Create(ctx, conn); err != nil {
		if errors.Is(err, repository.ErrDuplicateConnection) {
			return failed(fmt.Sprintf("Connection with name '%s' already exists", req.ConnectionName)), err
		}
		return failed(fmt.Sprintf("Error saving connection: %v", err)), err
	}
	log.Infof("[ConnectionService] saved connection %s (id=%d) with %d tables", conn.ConnectionName, conn.ID, len(conn.Tables))

	// 4. 以下步骤失败不影响结果
	if err := s.catalog.IndexConnection(ctx, conn); err != nil {
		log.Warnf("[ConnectionService] catalog index of %s failed: %v", conn.ConnectionName, err)
	}
	if err := s.cache.Set(ctx, conn.ConnectionName, BuildMetadata(conn)); err != nil {
		log.Warnf("[ConnectionService] cache warm of %s failed: %v", conn.ConnectionName, err)
	}
	s.publish(ctx, events.New(events.ConnectionProbed, conn.ConnectionName, map[string]any{
		"connection_id":   conn.ID,
		"connection_name": conn.ConnectionName,
		"schema_name":     conn.SchemaName,
		"tables":          result.TableNames(),
	}))

	tables := result.TableNames()
	if len(tables) == 0 {
		return &ConnectionResult{
			Success: true,
			Message: fmt.Sprintf("Connected successfully but no tables found in schema '%s'", req.SchemaName),
			Tables:  tables,
		}, nil
	}
	return &ConnectionResult{Success: true, Message: "Connection successful and data saved", Tables: tables}, nil
}

func (s *connectionService) ListConnections(ctx context.Context) ([]model.DatabaseConnection, error) {
	return s.connRepo.FindAll(ctx)
}

func (s *connectionService) DeleteConnection(ctx context.Context, id uint) (*ConnectionResult, error) {
	conn, err := s.connRepo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return failed(fmt.Sprintf("Connection with ID %d not found", id)), ErrConnectionNotFound
	}
	if err != nil {
		return failed(fmt.Sprintf("Error deleting connection: %v", err)), err
	}

	if err := s.cache.Invalidate(ctx, conn.ConnectionName); err != nil {
		log.Warnf("[ConnectionService] cache invalidation of %s failed: %v", conn.ConnectionName, err)
	}
	if err := s.catalog.DeleteConnection(ctx, conn.ID); err != nil {
		log.Warnf("[ConnectionService] catalog removal of %s failed: %v", conn.ConnectionName, err)
	}
	s.publish(ctx, events.New(events.ConnectionDeleted, conn.ConnectionName, map[string]any{
		"connection_id":   conn.ID,
		"connection_name": conn.ConnectionName,
	}))
	log.Infof("[ConnectionService] deleted connection %s (id=%d)", conn.ConnectionName, conn.ID)
	return &ConnectionResult{Success: true, Message: fmt.Sprintf("Connection '%s' successfully deleted", conn.ConnectionName)}, nil
}

func (s *connectionService) ListTables(ctx context.Context, id uint) (*ConnectionResult, error) {
	tables, err := s.connRepo.ListTables(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return failed(fmt.Sprintf("Connection with ID %d not found", id)), ErrConnectionNotFound
	}
	if err != nil {
		return failed(fmt.Sprintf("Error retrieving tables: %v", err)), err
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	return &ConnectionResult{Success: true, Message: "Tables retrieved successfully", Tables: names}, nil
}

// ListColumns 表不存在时返回空列表。
func (s *connectionService) ListColumns(ctx context.Context, id uint, table string) ([]string, error) {
	cols, err := s.connRepo.ListColumns(ctx, id, table)
	if errors.Is(err, repository.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.ColumnName)
	}
	return names, nil
}

func (s *connectionService) Metadata(ctx context.Context, conn *model.DatabaseConnection) (model.ConnectionMetadata, error) {
	md, ok, err := s.cache.Get(ctx, conn.ConnectionName)
	if err != nil {
		log.Warnf("[ConnectionService] metadata cache read for %s failed: %v", conn.ConnectionName, err)
	}
	if ok {
		return md, nil
	}

	if conn.Tables == nil {
		full, err := s.connRepo.FindByID(ctx, conn.ID)
		if err != nil {
			return nil, err
		}
		conn = full
	}
	md = BuildMetadata(conn)
	if err := s.cache.Set(ctx, conn.ConnectionName, md); err != nil {
		log.Warnf("[ConnectionService] metadata cache write for %s failed: %v", conn.ConnectionName, err)
	}
	return md, nil
}

func (s *connectionService) Target(conn *model.DatabaseConnection) (prober.Target, error) {
	password, err := s.box.Open(conn.Password)
	if err != nil {
		return prober.Target{}, fmt.Errorf("decrypt password of %s: %w", conn.ConnectionName, err)
	}
	return prober.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: password,
		Database: conn.DatabaseName,
		Schema:   conn.SchemaName,
	}, nil
}

func (s *connectionService) publish(ctx context.Context, evt events.Event) {
	if err := s.producer.Publish(ctx, evt); err != nil {
		log.Warnf("[ConnectionService] publish %s failed: %v", evt.Type, err)
	}
}

// BuildMetadata 把已编目的表与列转换为提示词格式，跳过没有列的表。
func BuildMetadata(conn *model.DatabaseConnection) model.ConnectionMetadata {
	md := make(model.ConnectionMetadata, len(conn.Tables))
	for _, t := range conn.Tables {
		if len(t.Columns) == 0 {
			continue
		}
		cols := make([]model.ColumnMetadata, 0, len(t.Columns))
		for _, c := range t.Columns {
			sample := []any{}
			if len(c.SampleValues) > 0 {
				if err := json.Unmarshal(c.SampleValues, &sample); err != nil {
					log.Warnf("[ConnectionService] bad sample values for %s.%s: %v", t.Name, c.ColumnName, err)
					sample = []any{}
				}
			}
			cols = append(cols, model.ColumnMetadata{Name: c.ColumnName, Type: c.DataType, Sample: sample})
		}
		md[t.Name] = model.TableMetadata{Columns: cols, SchemaName: conn.SchemaName}
	}
	return md
}

func buildConnection(req CreateConnectionRequest, sealedPassword string, result *prober.Result) (*model.DatabaseConnection, error) {
	conn := &model.DatabaseConnection{
		ConnectionName: req.ConnectionName,
		Host:           req.Host,
		Port:           req.Port,
		Username:       req.Username,
		Password:       sealedPassword,
		DatabaseName:   req.DatabaseName,
		SchemaName:     req.SchemaName,
		Tables:         make([]model.TableDetails, 0, len(result.Tables)),
	}
	for _, t := range result.Tables {
		table := model.TableDetails{Name: t.Name, Columns: make([]model.ColumnDetails, 0, len(t.Columns))}
		for _, c := range t.Columns {
			samples, err := json.Marshal(c.Samples)
			if err != nil {
				return nil, fmt.Errorf("encode samples of %s.%s: %w", t.Name, c.Name, err)
			}
			table.Columns = append(table.Columns, model.ColumnDetails{
				ColumnName:   c.Name,
				DataType:     c.DataType,
				IsNullable:   c.IsNullable,
				SampleValues: datatypes.JSON(samples),
			})
		}
		conn.Tables = append(conn.Tables, table)
	}
	return conn, nil
}

func probeMessage(req CreateConnectionRequest, err error) string {
	var tableErr *prober.TableError
	switch {
	case errors.Is(err, prober.ErrConnectivity):
		return fmt.Sprintf("Database connection failed: %v", err)
	case errors.Is(err, prober.ErrSchemaNotFound):
		return fmt.Sprintf("Schema '%s' does not exist", req.SchemaName)
	case errors.As(err, &tableErr):
		return fmt.Sprintf("Error processing table '%s': %v", tableErr.Table, tableErr.Err)
	default:
		return fmt.Sprintf("Error probing database: %v", err)
	}
}

func failed(message string) *ConnectionResult {
	return &ConnectionResult{Success: false, Message: message, Tables: []string{}}
}
