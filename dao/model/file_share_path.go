package model

import "time"

// FileSharePath is one managed mount point. Rows are owned by the path
// metadata synchronizer; everything else only reads them.
type FileSharePath struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	Name        string  `gorm:"uniqueIndex;type:varchar(512);not null;comment:stable identifier derived from the mount path" json:"name"`
	Zone        string  `gorm:"type:varchar(256);not null;comment:grouping used by the UI" json:"zone"`
	Group       *string `gorm:"index;type:varchar(256);comment:owning group" json:"group"`
	Storage     *string `gorm:"type:varchar(256);comment:storage class (home, primary, scratch)" json:"storage"`
	MountPath   string  `gorm:"uniqueIndex;type:varchar(1024);not null;comment:absolute path visible to the service" json:"mount_path"`
	MacPath     *string `gorm:"type:varchar(1024)" json:"mac_path"`
	WindowsPath *string `gorm:"type:varchar(1024)" json:"windows_path"`
	LinuxPath   *string `gorm:"type:varchar(1024)" json:"linux_path"`
}

// SameAs reports whether every synchronized attribute matches other.
func (p *FileSharePath) SameAs(other *FileSharePath) bool {
	return p.Name == other.Name &&
		p.Zone == other.Zone &&
		equalPtr(p.Group, other.Group) &&
		equalPtr(p.Storage, other.Storage) &&
		p.MountPath == other.MountPath &&
		equalPtr(p.MacPath, other.MacPath) &&
		equalPtr(p.WindowsPath, other.WindowsPath) &&
		equalPtr(p.LinuxPath, other.LinuxPath)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RefreshState records the last successful synchronization. At most one row exists.
type RefreshState struct {
	ID                uint       `gorm:"primaryKey"`
	SourceLastUpdated *time.Time `gorm:"comment:last-modified timestamp reported by the source"`
	DBLastUpdated     time.Time  `gorm:"not null;comment:when the sync was applied locally"`
}

func (RefreshState) TableName() string {
	return "last_refresh"
}
