package query

import (
	"fmt"
	"time"

	"fileglancer/config"
	"fileglancer/logutils"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and runs pending migrations.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dialect, dsn := cfg.DSN()
	return OpenDSN(dialect, dsn)
}

// OpenDSN connects with an explicit dialect ("postgres" or "sqlite") and
// runs pending migrations.
func OpenDSN(dialect, dsn string) (*gorm.DB, error) {
	db, err := Connect(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logutils.Log.WithField("dialect", dialect).Info("Database init success!")
	return db, nil
}

// Connect opens the database without touching its schema.
func Connect(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(logutils.Log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialect == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}
