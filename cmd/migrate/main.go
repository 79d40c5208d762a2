// Command migrate applies or rolls back schema migrations, and moves the data
// of a sqlite database into the configured one.
package main

import (
	"context"
	"fmt"
	"os"

	"fileglancer/config"
	"fileglancer/dao/query"
	"fileglancer/logutils"

	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config.yaml")
	rollback := flag.Bool("rollback", false, "undo the most recent migration instead of applying pending ones")
	fromSQLite := flag.String("from-sqlite", "", "copy all data from this sqlite database into the configured one")
	replace := flag.Bool("replace", false, "with --from-sqlite, replace data already in the configured database")
	batchSize := flag.Int("batch-size", 500, "rows copied per batch with --from-sqlite")
	flag.Parse()

	var err error
	if *fromSQLite != "" {
		err = copyFromSQLite(*configPath, *fromSQLite, query.CopyOptions{BatchSize: *batchSize, Replace: *replace})
	} else {
		err = run(*configPath, *rollback)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(configPath string, rollback bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logutils.SetLevel(cfg.LogLevel)

	dialect, dsn := cfg.DSN()
	db, err := query.Connect(dialect, dsn)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dialect, err)
	}

	if rollback {
		if err := query.RollbackLast(db); err != nil {
			return fmt.Errorf("could not roll back: %w", err)
		}
		logutils.Log.Info("Rolled back the last migration")
		return nil
	}
	if err := query.Migrate(db); err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}
	logutils.Log.Info("Migration did run successfully")
	return nil
}

func copyFromSQLite(configPath, sqlitePath string, opts query.CopyOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logutils.SetLevel(cfg.LogLevel)

	src, err := query.Connect("sqlite", sqlitePath)
	if err != nil {
		return fmt.Errorf("connect to sqlite: %w", err)
	}
	dialect, dsn := cfg.DSN()
	dst, err := query.Connect(dialect, dsn)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dialect, err)
	}
	if err := query.Migrate(dst); err != nil {
		return fmt.Errorf("could not migrate target: %w", err)
	}

	stats, err := query.CopyData(context.Background(), src, dst, opts)
	if err != nil {
		return err
	}
	var total int64
	for _, n := range stats {
		total += n
	}
	logutils.Log.WithField("rows", total).Info("Data copied successfully")
	return nil
}
