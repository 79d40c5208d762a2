package query

import (
	"time"

	"fileglancer/dao/model"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			// index proxied paths by owner and file share for the list filters
			ID: "2025061000001",
			Migrate: func(tx *gorm.DB) error {
				// copy the struct so later model changes don't rewrite history
				type ProxiedPath struct {
					ID          uint   `gorm:"primaryKey"`
					Username    string `gorm:"index;type:varchar(64);not null"`
					SharingKey  string `gorm:"uniqueIndex;type:varchar(64);not null"`
					SharingName string `gorm:"type:varchar(512);not null"`
					FSPName     string `gorm:"column:fsp_name;index;type:varchar(512);not null"`
					Path        string `gorm:"type:varchar(4096);not null"`
					CreatedAt   time.Time
					UpdatedAt   time.Time
				}
				return tx.AutoMigrate(&ProxiedPath{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropIndex("proxied_paths", "idx_proxied_paths_fsp_name")
			},
		},
		{
			// user preferences keyed by (username, key)
			ID: "2025061000002",
			Migrate: func(tx *gorm.DB) error {
				type UserPreference struct {
					ID       uint           `gorm:"primaryKey"`
					Username string         `gorm:"uniqueIndex:idx_user_pref;type:varchar(64);not null"`
					Key      string         `gorm:"uniqueIndex:idx_user_pref;type:varchar(256);not null"`
					Value    datatypes.JSON `gorm:"not null"`
				}
				return tx.AutoMigrate(&UserPreference{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("user_preferences")
			},
		},
	}
}

// Migrate brings the schema up to date. A fresh database gets the current
// schema directly and all migrations are marked as applied.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations())
	m.InitSchema(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&model.FileSharePath{},
			&model.RefreshState{},
			&model.ProxiedPath{},
			&model.UserPreference{},
		)
	})
	return m.Migrate()
}

// RollbackLast undoes the most recent migration.
func RollbackLast(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations()).RollbackLast()
}
