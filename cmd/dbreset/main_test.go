package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"agstack-go/internal/model"
	"agstack-go/internal/repository"
	"agstack-go/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seeded(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	chat := &model.Chat{Title: "keep?"}
	require.NoError(t, repository.NewChatRepository(db).Create(context.Background(), chat, nil))
	return db
}

func chats(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&model.Chat{}).Count(&n).Error)
	return n
}

func TestRun_InitKeepsData(t *testing.T) {
	db := seeded(t)
	var out bytes.Buffer
	require.NoError(t, run(db, modeInit, false, strings.NewReader(""), &out))
	assert.Equal(t, int64(1), chats(t, db))
}

func TestRun_ResetNeedsConfirmation(t *testing.T) {
	db := seeded(t)
	var out bytes.Buffer
	require.NoError(t, run(db, modeOrdered, false, strings.NewReader("n\n"), &out))
	assert.Contains(t, out.String(), "Operation canceled.")
	assert.Equal(t, int64(1), chats(t, db))

	out.Reset()
	require.NoError(t, run(db, modeOrdered, false, strings.NewReader("y\n"), &out))
	assert.Contains(t, out.String(), "Database reset complete!")
	assert.Equal(t, int64(0), chats(t, db))
}

func TestRun_Cascade(t *testing.T) {
	db := seeded(t)
	require.NoError(t, db.Exec("CREATE TABLE stray (id integer)").Error)
	var out bytes.Buffer
	require.NoError(t, run(db, modeCascade, true, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "  - stray")
	assert.False(t, db.Migrator().HasTable("stray"))
	assert.True(t, db.Migrator().HasTable(&model.ChatMessage{}))
	assert.Equal(t, int64(0), chats(t, db))
}
