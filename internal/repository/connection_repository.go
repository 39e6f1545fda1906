package repository

import (
	"context"
	"errors"
	"fmt"

	"agstack-go/internal/model"

	"gorm.io/gorm"
)

// ConnectionRepository 定义了外部数据库连接及其编目信息的持久化操作。
type ConnectionRepository interface {
	// Create 在一个事务内写入连接、全部表与列，要么全部成功要么全部回滚。
	Create(ctx context.Context, conn *model.DatabaseConnection) error
	ExistsByName(ctx context.Context, name string) (bool, error)
	FindByID(ctx context.Context, id uint) (*model.DatabaseConnection, error)
	FindByName(ctx context.Context, name string) (*model.DatabaseConnection, error)
	FindByIDs(ctx context.Context, ids []uint) ([]model.DatabaseConnection, error)
	FindAll(ctx context.Context) ([]model.DatabaseConnection, error)
	ListTables(ctx context.Context, connectionID uint) ([]model.TableDetails, error)
	ListColumns(ctx context.Context, connectionID uint, tableName string) ([]model.ColumnDetails, error)
	// Delete 级联删除连接的表、列以及会话关联，返回被删除的连接。
	Delete(ctx context.Context, id uint) (*model.DatabaseConnection, error)
}

type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository 创建一个新的 ConnectionRepository 实例。
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *model.DatabaseConnection) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Tables").Create(conn).Error; err != nil {
			return err
		}
		for i := range conn.Tables {
			table := &conn.Tables[i]
			table.ConnectionID = conn.ID
			if err := tx.Omit("Columns").Create(table).Error; err != nil {
				return fmt.Errorf("create table %s: %w", table.Name, err)
			}
			if len(table.Columns) == 0 {
				continue
			}
			for j := range table.Columns {
				table.Columns[j].TableID = table.ID
			}
			if err := tx.CreateInBatches(table.Columns, 100).Error; err != nil {
				return fmt.Errorf("create columns of %s: %w", table.Name, err)
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateConnection
	}
	return err
}

func (r *connectionRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DatabaseConnection{}).
		Where("connection_name = ?", name).Count(&count).Error
	return count > 0, err
}

func (r *connectionRepository) FindByID(ctx context.Context, id uint) (*model.DatabaseConnection, error) {
	var conn model.DatabaseConnection
	err := r.withCatalog(ctx).First(&conn, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conn, nil
}

func (r *connectionRepository) FindByName(ctx context.Context, name string) (*model.DatabaseConnection, error) {
	var conn model.DatabaseConnection
	err := r.withCatalog(ctx).Where("connection_name = ?", name).First(&conn).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conn, nil
}

// FindByIDs 按 id 升序返回连接及其编目信息，不存在的 id 被忽略。
func (r *connectionRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.DatabaseConnection, error) {
	var conns []model.DatabaseConnection
	if len(ids) == 0 {
		return conns, nil
	}
	err := r.withCatalog(ctx).Where("id IN ?", ids).Order("id asc").Find(&conns).Error
	return conns, err
}

func (r *connectionRepository) FindAll(ctx context.Context) ([]model.DatabaseConnection, error) {
	var conns []model.DatabaseConnection
	err := r.db.WithContext(ctx).Order("id asc").Find(&conns).Error
	return conns, err
}

func (r *connectionRepository) ListTables(ctx context.Context, connectionID uint) ([]model.TableDetails, error) {
	if err := r.mustExist(ctx, connectionID); err != nil {
		return nil, err
	}
	var tables []model.TableDetails
	err := r.db.WithContext(ctx).Where("connection_id = ?", connectionID).Order("id asc").Find(&tables).Error
	return tables, err
}

func (r *connectionRepository) ListColumns(ctx context.Context, connectionID uint, tableName string) ([]model.ColumnDetails, error) {
	var table model.TableDetails
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND table_name = ?", connectionID, tableName).
		Preload("Columns", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		First(&table).Error
	if err != nil {
		return nil, notFound(err)
	}
	return table.Columns, nil
}

func (r *connectionRepository) Delete(ctx context.Context, id uint) (*model.DatabaseConnection, error) {
	var conn model.DatabaseConnection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conn, id).Error; err != nil {
			return notFound(err)
		}
		tableIDs := tx.Model(&model.TableDetails{}).Select("id").Where("connection_id = ?", id)
		if err := tx.Where("table_id IN (?)", tableIDs).Delete(&model.ColumnDetails{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&model.TableDetails{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", id).Delete(&model.ChatConnection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.DatabaseConnection{}, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) withCatalog(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Tables", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("Tables.Columns", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
}

func (r *connectionRepository) mustExist(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.DatabaseConnection{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
