// Command dbreset initializes or resets the metadata database.
//
//	dbreset -init      create missing tables only (safe)
//	dbreset            drop the system tables in dependency order and recreate them
//	dbreset -cascade   drop every table in the database and recreate the system tables
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"agstack-go/internal/config"
	"agstack-go/internal/repository"
	"agstack-go/pkg/database"
	"agstack-go/pkg/log"

	"gorm.io/gorm"
)

func main() {
	defaultPath := os.Getenv(config.PathEnv)
	if defaultPath == "" {
		defaultPath = "./configs/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "配置文件路径")
	initOnly := flag.Bool("init", false, "只创建缺失的表")
	cascade := flag.Bool("cascade", false, "删除数据库中的所有表后重建")
	yes := flag.Bool("yes", false, "跳过确认")
	flag.Parse()

	config.Init(*configPath)
	cfg := config.Conf
	log.Init(log.Options{Level: cfg.Log.Level, Format: "console"})
	defer log.Sync()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("元数据库连接失败", err)
	}

	if err := run(db, mode(*initOnly, *cascade), *yes, os.Stdin, os.Stdout); err != nil {
		log.Fatal("数据库重置失败", err)
	}
}

type resetMode int

const (
	modeOrdered resetMode = iota
	modeInit
	modeCascade
)

func mode(initOnly, cascade bool) resetMode {
	switch {
	case initOnly:
		return modeInit
	case cascade:
		return modeCascade
	default:
		return modeOrdered
	}
}

func run(db *gorm.DB, m resetMode, yes bool, in io.Reader, out io.Writer) error {
	if m == modeInit {
		fmt.Fprintln(out, "Initializing database...")
		if err := repository.AutoMigrate(db); err != nil {
			return err
		}
		fmt.Fprintln(out, "Database initialized.")
		return nil
	}

	if !yes && !confirm(in, out, m) {
		fmt.Fprintln(out, "Operation canceled.")
		return nil
	}

	if m == modeCascade {
		dropped, err := repository.DropEverything(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped %d tables:\n", len(dropped))
		for _, name := range dropped {
			fmt.Fprintf(out, "  - %s\n", name)
		}
	} else {
		if err := repository.DropAll(db); err != nil {
			return err
		}
		fmt.Fprintln(out, "Dropped system tables.")
	}

	if err := repository.AutoMigrate(db); err != nil {
		return err
	}
	fmt.Fprintln(out, "Database reset complete!")
	return nil
}

func confirm(in io.Reader, out io.Writer, m resetMode) bool {
	if m == modeCascade {
		fmt.Fprintln(out, "WARNING: This will DELETE ALL TABLES in the database and RECREATE the system tables.")
	} else {
		fmt.Fprintln(out, "WARNING: This will DELETE ALL DATA in the database and RECREATE all tables.")
	}
	fmt.Fprint(out, "Are you sure you want to proceed? (y/n): ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
