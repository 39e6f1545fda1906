// Command datatool is the bridge between generated analysis programs and the
// rest of the system. It runs read queries against a registered connection and
// stores result tables in the artifact store of the current turn.
//
//	datatool query -connection sales_db -sql "select ..."   # CSV on stdout
//	datatool write -name total_sales.csv < result.csv
//
// The configuration file is taken from AGSTACK_CONFIG, the artifact scope
// from AGSTACK_ARTIFACT_SCOPE.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"agstack-go/internal/config"
	"agstack-go/internal/repository"
	"agstack-go/pkg/database"
	"agstack-go/pkg/prober"
	"agstack-go/pkg/secret"
	"agstack-go/pkg/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "query":
		err = queryCmd(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "write":
		err = writeCmd(ctx, os.Args[2:], os.Stdin)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "datatool %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: datatool query -connection NAME [-sql SQL | < file]")
	fmt.Fprintln(os.Stderr, "       datatool write -name FILE.csv [-in PATH | < file]")
}

func loadConfig() (*config.Config, error) {
	return config.Load(os.Getenv(config.PathEnv))
}

func queryCmd(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	connection := fs.String("connection", "", "registered connection name")
	sqlText := fs.String("sql", "", "SQL to run; read from stdin when empty")
	timeout := fs.Duration("timeout", 0, "query timeout, defaults to the runner timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *connection == "" {
		return errors.New("-connection is required")
	}
	query := *sqlText
	if query == "" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		query = string(b)
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("empty query")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *timeout <= 0 {
		*timeout = cfg.Runner.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	conn, err := repository.NewConnectionRepository(db).FindByName(ctx, *connection)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("connection %q is not registered", *connection)
	}
	if err != nil {
		return err
	}
	box, err := secret.NewBox(cfg.Security.SecretKey)
	if err != nil {
		return err
	}
	password, err := box.Open(conn.Password)
	if err != nil {
		return err
	}

	p := prober.New(prober.Options{ConnectTimeout: cfg.Prober.ConnectTimeout, SSLMode: cfg.Prober.SSLMode})
	sess, err := p.Connect(ctx, prober.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: password,
		Database: conn.DatabaseName,
		Schema:   conn.SchemaName,
	})
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	result, err := sess.Query(ctx, query)
	if err != nil {
		return err
	}
	return writeCSV(stdout, result)
}

func writeCmd(ctx context.Context, args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("write", flag.ContinueOnError)
	name := fs.String("name", "", "artifact file name")
	in := fs.String("in", "", "CSV file to store; stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-name is required")
	}
	scope := os.Getenv(storage.ScopeEnv)
	if scope == "" {
		return fmt.Errorf("%s is not set", storage.ScopeEnv)
	}

	src := stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	store, err := storage.Open(ctx, cfg.Artifacts, cfg.MinIO)
	if err != nil {
		return err
	}
	return store.Put(ctx, scope, *name, src)
}

// writeCSV 输出表头与各行，NULL 为空单元格，复合值编码为 JSON。
func writeCSV(w io.Writer, result *prober.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return err
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = cell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
