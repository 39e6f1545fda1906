// Package prober connects to an external PostgreSQL database and catalogs
// the base tables, columns and sample values of one schema.
package prober

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agstack-go/pkg/log"
)

// MaxSampleValues caps the number of sample values kept per column.
const MaxSampleValues = 10

var (
	// ErrConnectivity is returned when the target cannot be reached or authenticated.
	ErrConnectivity = errors.New("unable to connect to database")
	// ErrSchemaNotFound is returned when the requested schema does not exist.
	ErrSchemaNotFound = errors.New("schema not found")
)

// TableError reports a failure while cataloging one table.
type TableError struct {
	Table string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("error processing table %s: %v", e.Table, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// Target identifies the external database and schema to probe.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Schema   string
}

// Column is a probed column with up to MaxSampleValues samples.
type Column struct {
	Name       string
	DataType   string
	IsNullable bool
	Samples    []any
}

// Table is a probed base table.
type Table struct {
	Name    string
	Columns []Column
}

// Result is the full catalog of a schema.
type Result struct {
	Schema string
	Tables []Table
}

// TableNames returns the names of the probed tables in order.
func (r *Result) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		names = append(names, t.Name)
	}
	return names
}

// ColumnInfo is one row of information_schema.columns.
type ColumnInfo struct {
	Name       string
	DataType   string
	IsNullable bool
}

// QueryResult holds the rows of an ad hoc query with normalized values.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Session is an open connection to the target database.
type Session interface {
	Ping(ctx context.Context) error
	SchemaExists(ctx context.Context, schema string) (bool, error)
	ListTables(ctx context.Context, schema string) ([]string, error)
	ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error)
	SampleValues(ctx context.Context, schema, table, column string, limit int) ([]any, error)
	Query(ctx context.Context, sql string) (*QueryResult, error)
	Close(ctx context.Context) error
}

// Dialer opens a Session to a target.
type Dialer func(ctx context.Context, target Target) (Session, error)

// Options configures a Prober.
type Options struct {
	ConnectTimeout time.Duration
	SampleLimit    int
	SSLMode        string
}

// Prober catalogs external schemas. Dial defaults to a pgx connection.
type Prober struct {
	opts Options
	Dial Dialer
}

// New returns a Prober that connects with pgx.
func New(opts Options) *Prober {
	if opts.SampleLimit <= 0 || opts.SampleLimit > MaxSampleValues {
		opts.SampleLimit = MaxSampleValues
	}
	p := &Prober{opts: opts}
	p.Dial = func(ctx context.Context, target Target) (Session, error) {
		return DialPgx(ctx, target, opts)
	}
	return p
}

// Connect opens a verified session to the target. Callers close it.
func (p *Prober) Connect(ctx context.Context, target Target) (Session, error) {
	sess, err := p.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	if err := sess.Ping(ctx); err != nil {
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return sess, nil
}

// Probe connects to the target, verifies the schema and catalogs every base
// table. Nothing is returned unless every table was cataloged.
func (p *Prober) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Schema == "" {
		target.Schema = "public"
	}
	sess, err := p.Connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(context.Background()); err != nil {
			log.Warnf("[Prober] close session for %s failed: %v", target.Database, err)
		}
	}()

	exists, err := sess.SchemaExists(ctx, target.Schema)
	if err != nil {
		return nil, fmt.Errorf("check schema %s: %w", target.Schema, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, target.Schema)
	}

	names, err := sess.ListTables(ctx, target.Schema)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", target.Schema, err)
	}

	result := &Result{Schema: target.Schema, Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		table, err := p.probeTable(ctx, sess, target.Schema, name)
		if err != nil {
			return nil, &TableError{Table: name, Err: err}
		}
		result.Tables = append(result.Tables, table)
	}
	log.Infof("[Prober] cataloged %d tables in %s.%s", len(result.Tables), target.Database, target.Schema)
	return result, nil
}

func (p *Prober) probeTable(ctx context.Context, sess Session, schema, name string) (Table, error) {
	infos, err := sess.ListColumns(ctx, schema, name)
	if err != nil {
		return Table{}, fmt.Errorf("list columns: %w", err)
	}
	table := Table{Name: name, Columns: make([]Column, 0, len(infos))}
	for _, info := range infos {
		samples, err := sess.SampleValues(ctx, schema, name, info.Name, p.opts.SampleLimit)
		if err != nil {
			return Table{}, fmt.Errorf("sample column %s: %w", info.Name, err)
		}
		if len(samples) > MaxSampleValues {
			samples = samples[:MaxSampleValues]
		}
		if samples == nil {
			samples = []any{}
		}
		table.Columns = append(table.Columns, Column{
			Name:       info.Name,
			DataType:   info.DataType,
			IsNullable: info.IsNullable,
			Samples:    samples,
		})
	}
	return table, nil
}
