package prober

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// ConnString builds a postgres:// URL for the target.
func ConnString(target Target, opts Options) string {
	query := url.Values{}
	if opts.SSLMode != "" {
		query.Set("sslmode", opts.SSLMode)
	}
	if opts.ConnectTimeout > 0 {
		query.Set("connect_timeout", strconv.Itoa(int(opts.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(target.Username, target.Password),
		Host:     net.JoinHostPort(target.Host, strconv.Itoa(target.Port)),
		Path:     "/" + target.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

type pgxSession struct {
	conn *pgx.Conn
}

// DialPgx opens a single pgx connection to the target.
func DialPgx(ctx context.Context, target Target, opts Options) (Session, error) {
	cfg, err := pgx.ParseConfig(ConnString(target, opts))
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgxSession{conn: conn}, nil
}

func (s *pgxSession) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *pgxSession) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schema).Scan(&exists)
	return exists, err
}

func (s *pgxSession) ListTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *pgxSession) ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ColumnInfo, error) {
		var info ColumnInfo
		var nullable string
		if err := row.Scan(&info.Name, &info.DataType, &nullable); err != nil {
			return info, err
		}
		info.IsNullable = nullable == "YES"
		return info, nil
	})
}

func (s *pgxSession) SampleValues(ctx context.Context, schema, table, column string, limit int) ([]any, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s LIMIT %d",
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{schema, table}.Sanitize(),
		limit)
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (any, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		return Normalize(values[0]), nil
	})
}

func (s *pgxSession) Query(ctx context.Context, sql string) (*QueryResult, error) {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &QueryResult{}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] = Normalize(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	return result, rows.Err()
}

func (s *pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
