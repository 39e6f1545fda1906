package prober

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	pingErr   error
	schemas   map[string]bool
	tables    []string
	columns   map[string][]ColumnInfo
	samples   map[string][]any
	failTable string
	closed    bool
}

func (f *fakeSession) Ping(context.Context) error { return f.pingErr }

func (f *fakeSession) SchemaExists(_ context.Context, schema string) (bool, error) {
	return f.schemas[schema], nil
}

func (f *fakeSession) ListTables(context.Context, string) ([]string, error) { return f.tables, nil }

func (f *fakeSession) ListColumns(_ context.Context, _, table string) ([]ColumnInfo, error) {
	if table == f.failTable {
		return nil, errors.New("permission denied for table " + table)
	}
	return f.columns[table], nil
}

func (f *fakeSession) SampleValues(_ context.Context, _, table, column string, limit int) ([]any, error) {
	values := f.samples[table+"."+column]
	if len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (f *fakeSession) Query(context.Context, string) (*QueryResult, error) {
	return &QueryResult{}, nil
}

func (f *fakeSession) Close(context.Context) error {
	f.closed = true
	return nil
}

func newFakeProber(sess *fakeSession, dialErr error) *Prober {
	p := New(Options{SampleLimit: 10})
	p.Dial = func(context.Context, Target) (Session, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return sess, nil
	}
	return p
}

func salesSession() *fakeSession {
	many := make([]any, 0, 15)
	for i := 0; i < 15; i++ {
		many = append(many, i)
	}
	return &fakeSession{
		schemas: map[string]bool{"public": true},
		tables:  []string{"customers", "orders"},
		columns: map[string][]ColumnInfo{
			"customers": {{Name: "name", DataType: "text", IsNullable: true}},
			"orders": {
				{Name: "id", DataType: "integer"},
				{Name: "amount", DataType: "numeric", IsNullable: true},
			},
		},
		samples: map[string][]any{
			"customers.name": {"ann", "bob"},
			"orders.id":      many,
		},
	}
}

func TestProbe_CatalogsEveryTable(t *testing.T) {
	sess := salesSession()
	result, err := newFakeProber(sess, nil).Probe(context.Background(), Target{Database: "sales"})
	require.NoError(t, err)

	assert.Equal(t, "public", result.Schema)
	assert.Equal(t, []string{"customers", "orders"}, result.TableNames())
	orders := result.Tables[1]
	require.Len(t, orders.Columns, 2)
	assert.Len(t, orders.Columns[0].Samples, MaxSampleValues)
	assert.Equal(t, []any{}, orders.Columns[1].Samples)
	assert.True(t, orders.Columns[1].IsNullable)
	assert.True(t, sess.closed)
}

func TestProbe_Errors(t *testing.T) {
	t.Run("dial failure", func(t *testing.T) {
		_, err := newFakeProber(nil, errors.New("connection refused")).Probe(context.Background(), Target{})
		assert.ErrorIs(t, err, ErrConnectivity)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("ping failure", func(t *testing.T) {
		sess := salesSession()
		sess.pingErr = errors.New("password authentication failed")
		_, err := newFakeProber(sess, nil).Probe(context.Background(), Target{})
		assert.ErrorIs(t, err, ErrConnectivity)
		assert.True(t, sess.closed)
	})

	t.Run("schema missing", func(t *testing.T) {
		_, err := newFakeProber(salesSession(), nil).Probe(context.Background(), Target{Schema: "analytics"})
		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("table failure", func(t *testing.T) {
		sess := salesSession()
		sess.failTable = "orders"
		result, err := newFakeProber(sess, nil).Probe(context.Background(), Target{})
		assert.Nil(t, result)
		var tableErr *TableError
		require.ErrorAs(t, err, &tableErr)
		assert.Equal(t, "orders", tableErr.Table)
	})
}

func TestProbe_EmptySchema(t *testing.T) {
	sess := salesSession()
	sess.tables = nil
	result, err := newFakeProber(sess, nil).Probe(context.Background(), Target{})
	require.NoError(t, err)
	assert.Empty(t, result.Tables)
}

func TestNormalize(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	var num pgtype.Numeric
	require.NoError(t, num.Scan("48213.50"))

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", int64(7), int64(7)},
		{"time", ts, "2024-03-01T12:30:00Z"},
		{"uuid", [16]byte(id), id.String()},
		{"text bytes", []byte("hello"), "hello"},
		{"binary bytes", []byte{0xff, 0x00}, "\\xff00"},
		{"numeric", num, 48213.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestConnString_EscapesCredentials(t *testing.T) {
	s := ConnString(Target{Host: "db", Port: 5432, Username: "u@x", Password: "p/ss", Database: "sales"},
		Options{SSLMode: "disable", ConnectTimeout: 5 * time.Second})
	assert.Equal(t, "postgres://u%40x:p%2Fss@db:5432/sales?connect_timeout=5&sslmode=disable", s)
}
