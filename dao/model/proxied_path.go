package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProxiedPath is one active share. The sharing key is a bearer credential.
type ProxiedPath struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Username    string    `gorm:"index;type:varchar(64);not null;comment:owner" json:"username"`
	SharingKey  string    `gorm:"uniqueIndex;type:varchar(64);not null;comment:opaque bearer key" json:"sharing_key"`
	SharingName string    `gorm:"type:varchar(512);not null;comment:final URL segment" json:"sharing_name"`
	FSPName     string    `gorm:"column:fsp_name;index;type:varchar(512);not null;comment:file share path name" json:"fsp_name"`
	Path        string    `gorm:"type:varchar(4096);not null;comment:path relative to the mount" json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserPreference is an arbitrary JSON document keyed by (username, key).
type UserPreference struct {
	ID       uint           `gorm:"primaryKey" json:"-"`
	Username string         `gorm:"uniqueIndex:idx_user_pref;type:varchar(64);not null" json:"-"`
	Key      string         `gorm:"uniqueIndex:idx_user_pref;type:varchar(256);not null" json:"key"`
	Value    datatypes.JSON `gorm:"not null" json:"value"`
}
