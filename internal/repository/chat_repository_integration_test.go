//go:build integration

package repository

import (
	"context"
	"sort"
	"sync"
	"testing"

	"agstack-go/internal/model"
	"agstack-go/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func newPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("agstack"),
		postgres.WithUsername("agstack"),
		postgres.WithPassword("secret"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := database.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestChatRepository_ConcurrentIndicesOnPostgres(t *testing.T) {
	db := newPostgresDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	chat := &model.Chat{Title: "race"}
	require.NoError(t, repo.Create(ctx, chat, nil))
	other := &model.Chat{Title: "other"}
	require.NoError(t, repo.Create(ctx, other, nil))

	const turns, singles = 30, 30
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, turns+2*singles)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := repo.AppendTurn(ctx, chat.ID, "q")
			errs <- err
		}()
	}
	for i := 0; i < singles; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			errs <- repo.AppendMessage(ctx, &model.ChatMessage{ChatID: chat.ID, Role: model.RoleUser, Content: "x"})
		}()
		go func() {
			defer wg.Done()
			<-start
			errs <- repo.AppendMessage(ctx, &model.ChatMessage{ChatID: other.ID, Role: model.RoleUser, Content: "y"})
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertContiguous := func(chatID uint, want int) {
		msgs, err := repo.ListMessages(ctx, chatID)
		require.NoError(t, err)
		require.Len(t, msgs, want)
		indices := make([]int, 0, len(msgs))
		for _, m := range msgs {
			indices = append(indices, m.MessageIndex)
		}
		sort.Ints(indices)
		for i, idx := range indices {
			assert.Equal(t, i, idx)
		}
	}
	assertContiguous(chat.ID, 2*turns+singles)
	assertContiguous(other.ID, singles)

	// 同一轮的用户与助手消息索引相邻
	msgs, err := repo.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	for i := 0; i+1 < len(msgs); i++ {
		if msgs[i].Role == model.RoleUser && msgs[i].Content == "q" {
			assert.Equal(t, model.RoleAssistant, msgs[i+1].Role)
			assert.Equal(t, msgs[i].MessageIndex+1, msgs[i+1].MessageIndex)
		}
	}
}
