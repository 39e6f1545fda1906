package repository

import (
	"fmt"

	"agstack-go/internal/model"

	"gorm.io/gorm"
)

// Models 按依赖顺序列出所有元数据表，父表在前。
func Models() []interface{} {
	return []interface{}{
		&model.DatabaseConnection{},
		&model.TableDetails{},
		&model.ColumnDetails{},
		&model.Chat{},
		&model.ChatConnection{},
		&model.ChatMessage{},
	}
}

// AutoMigrate 创建缺失的表与索引。
func AutoMigrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&model.Chat{}, "Connections", &model.ChatConnection{}); err != nil {
		return fmt.Errorf("setup join table: %w", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DropAll 按依赖的逆序删除所有元数据表。
func DropAll(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("drop %T: %w", models[i], err)
		}
	}
	return nil
}

// DropEverything 删除元数据库中的所有表，包括不属于本系统的表。
func DropEverything(db *gorm.DB) ([]string, error) {
	tables, err := db.Migrator().GetTables()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	for _, name := range tables {
		if err := db.Migrator().DropTable(name); err != nil {
			return nil, fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return tables, nil
}
