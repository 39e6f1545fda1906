//go:build integration

package prober

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestProbe_AgainstPostgres(t *testing.T) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sales"),
		postgres.WithUsername("reader"),
		postgres.WithPassword("secret"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `
		CREATE TABLE orders (id serial PRIMARY KEY, customer text NOT NULL, amount numeric(10,2), placed_at timestamptz);
		INSERT INTO orders (customer, amount, placed_at)
		SELECT 'c' || g, g * 1.5, now() FROM generate_series(1, 25) g;
		CREATE VIEW big_orders AS SELECT * FROM orders WHERE amount > 10;`)
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	cfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)
	target := Target{
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		Username: "reader",
		Password: "secret",
		Database: "sales",
		Schema:   "public",
	}

	p := New(Options{SSLMode: "disable", ConnectTimeout: 5 * time.Second})
	result, err := p.Probe(ctx, target)
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, result.TableNames())

	cols := result.Tables[0].Columns
	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "integer", cols[0].DataType)
	assert.False(t, cols[1].IsNullable)
	assert.True(t, cols[2].IsNullable)
	assert.Len(t, cols[2].Samples, MaxSampleValues)

	_, err = p.Probe(ctx, Target{Host: cfg.Host, Port: int(cfg.Port), Username: "reader", Password: "secret", Database: "sales", Schema: "nope"})
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = p.Probe(ctx, Target{Host: cfg.Host, Port: int(cfg.Port), Username: "reader", Password: "wrong", Database: "sales"})
	assert.ErrorIs(t, err, ErrConnectivity)

	sess, err := p.Connect(ctx, target)
	require.NoError(t, err)
	defer sess.Close(ctx)
	qr, err := sess.Query(ctx, "SELECT SUM(amount) AS total FROM orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, qr.Columns)
	require.Len(t, qr.Rows, 1)
	assert.InDelta(t, 487.5, qr.Rows[0][0], 0.001)
}
