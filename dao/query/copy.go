package query

import (
	"context"
	"errors"
	"fmt"

	"fileglancer/dao/model"
	"fileglancer/logutils"

	"gorm.io/gorm"
)

var ErrTargetNotEmpty = errors.New("target database already holds data")

type CopyOptions struct {
	// BatchSize is the number of rows read and written at a time.
	BatchSize int
	// Replace deletes the rows already in the target instead of refusing.
	Replace bool
}

// CopyStats counts the copied rows per table.
type CopyStats map[string]int64

// CopyData copies every table from src into dst, keeping primary keys, in one
// transaction on dst. Both schemas must be current.
func CopyData(ctx context.Context, src, dst *gorm.DB, opts CopyOptions) (CopyStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	stats := CopyStats{}
	src = src.WithContext(ctx)

	err := dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := prepareTarget(tx, opts.Replace); err != nil {
			return err
		}
		steps := []struct {
			table string
			copy  func() (int64, error)
		}{
			{"file_share_paths", func() (int64, error) { return copyTable[model.FileSharePath](src, tx, opts.BatchSize) }},
			{"last_refresh", func() (int64, error) { return copyTable[model.RefreshState](src, tx, opts.BatchSize) }},
			{"proxied_paths", func() (int64, error) { return copyTable[model.ProxiedPath](src, tx, opts.BatchSize) }},
			{"user_preferences", func() (int64, error) { return copyTable[model.UserPreference](src, tx, opts.BatchSize) }},
		}
		for _, step := range steps {
			n, err := step.copy()
			if err != nil {
				return fmt.Errorf("copy %s: %w", step.table, err)
			}
			stats[step.table] = n
			if err := resetSequence(tx, step.table); err != nil {
				return fmt.Errorf("reset %s id sequence: %w", step.table, err)
			}
			logutils.Log.WithFields(logutils.Fields{"table": step.table, "rows": n}).Info("Copied table")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func prepareTarget(tx *gorm.DB, replace bool) error {
	for _, m := range []any{&model.UserPreference{}, &model.ProxiedPath{}, &model.RefreshState{}, &model.FileSharePath{}} {
		if replace {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return err
			}
			continue
		}
		var n int64
		if err := tx.Model(m).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			stmt := &gorm.Statement{DB: tx}
			if err := stmt.Parse(m); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s has %d rows", ErrTargetNotEmpty, stmt.Schema.Table, n)
		}
	}
	return nil
}

func copyTable[T any](src, dst *gorm.DB, batchSize int) (int64, error) {
	var (
		rows  []T
		total int64
	)
	res := src.FindInBatches(&rows, batchSize, func(_ *gorm.DB, _ int) error {
		if len(rows) == 0 {
			return nil
		}
		if err := dst.Create(&rows).Error; err != nil {
			return err
		}
		total += int64(len(rows))
		return nil
	})
	return total, res.Error
}

// resetSequence moves a postgres serial past the copied ids.
func resetSequence(tx *gorm.DB, table string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), COALESCE((SELECT MAX(id) FROM %[1]s), 0) + 1, false)",
		table,
	)).Error
}
