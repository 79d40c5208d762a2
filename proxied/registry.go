// Package proxied stores shares of file share path subtrees and issues their keys.
package proxied

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"fileglancer/dao/model"
	"fileglancer/fsp"
	"fileglancer/logutils"

	"gorm.io/gorm"
)

var (
	ErrShareNotFound     = errors.New("share not found")
	ErrShareNameMismatch = errors.New("sharing name does not match")
	// ErrNotFound is returned to owners for keys they do not own as well as
	// for keys that do not exist.
	ErrNotFound    = errors.New("proxied path not found")
	ErrInvalidPath = errors.New("invalid share path")
	ErrInvalidName = errors.New("invalid sharing name")
)

const keyBytes = 16

// Target is a fully resolved share.
type Target struct {
	Share model.ProxiedPath
	FSP   model.FileSharePath
}

type Registry struct {
	db    *gorm.DB
	paths fsp.Store
}

func NewRegistry(db *gorm.DB, paths fsp.Store) *Registry {
	return &Registry{db: db, paths: paths}
}

// Create shares fspName/sharePath on behalf of owner.
func (r *Registry) Create(ctx context.Context, owner, fspName, sharePath string) (*model.ProxiedPath, error) {
	if _, err := r.paths.Get(ctx, fspName); err != nil {
		return nil, err
	}
	rel, err := CleanPath(sharePath)
	if err != nil {
		return nil, err
	}
	key, err := NewSharingKey()
	if err != nil {
		return nil, err
	}
	p := &model.ProxiedPath{
		Username:    owner,
		SharingKey:  key,
		SharingName: SharingName(fspName, rel),
		FSPName:     fspName,
		Path:        rel,
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	logutils.Log.WithFields(logutils.Fields{
		"user":     owner,
		"fsp_name": fspName,
		"path":     rel,
	}).Info("Created proxied path")
	return p, nil
}

// Get looks a share up by key alone. Callers authenticating a request must use Resolve.
func (r *Registry) Get(ctx context.Context, key string) (*model.ProxiedPath, error) {
	var p model.ProxiedPath
	err := r.db.WithContext(ctx).Where("sharing_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Resolve authenticates a key and sharing name pair and returns the share
// with its file share path.
func (r *Registry) Resolve(ctx context.Context, key, name string) (*Target, error) {
	p, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if p.SharingName != name {
		return nil, fmt.Errorf("%w: %s", ErrShareNameMismatch, name)
	}
	f, err := r.paths.Get(ctx, p.FSPName)
	if err != nil {
		return nil, err
	}
	return &Target{Share: *p, FSP: *f}, nil
}

func (r *Registry) GetForOwner(ctx context.Context, owner, key string) (*model.ProxiedPath, error) {
	var p model.ProxiedPath
	err := r.db.WithContext(ctx).Where("username = ? AND sharing_key = ?", owner, key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Changes lists the attributes to reassign; nil fields are kept.
type Changes struct {
	FSPName     *string
	Path        *string
	SharingName *string
}

// Update applies changes to a share owned by owner. A new path without an
// explicit sharing name also renames the share.
func (r *Registry) Update(ctx context.Context, owner, key string, c Changes) (*model.ProxiedPath, error) {
	p, err := r.GetForOwner(ctx, owner, key)
	if err != nil {
		return nil, err
	}
	if c.FSPName != nil && *c.FSPName != p.FSPName {
		if _, err := r.paths.Get(ctx, *c.FSPName); err != nil {
			return nil, err
		}
		p.FSPName = *c.FSPName
	}
	if c.Path != nil {
		rel, err := CleanPath(*c.Path)
		if err != nil {
			return nil, err
		}
		p.Path = rel
		if c.SharingName == nil {
			p.SharingName = SharingName(p.FSPName, rel)
		}
	}
	if c.SharingName != nil {
		name := *c.SharingName
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		p.SharingName = name
	}
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a share owned by owner and reports how many rows went away.
func (r *Registry) Delete(ctx context.Context, owner, key string) (int64, error) {
	res := r.db.WithContext(ctx).Where("username = ? AND sharing_key = ?", owner, key).Delete(&model.ProxiedPath{})
	return res.RowsAffected, res.Error
}

// List returns the shares of owner, optionally narrowed to one file share
// path and one relative path.
func (r *Registry) List(ctx context.Context, owner, fspName, sharePath string) ([]model.ProxiedPath, error) {
	q := r.db.WithContext(ctx).Where("username = ?", owner)
	if fspName != "" {
		q = q.Where("fsp_name = ?", fspName)
	}
	if sharePath != "" {
		rel, err := CleanPath(sharePath)
		if err != nil {
			return nil, err
		}
		q = q.Where("path = ?", rel)
	}
	var out []model.ProxiedPath
	if err := q.Order("created_at").Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CleanPath normalizes a slash-separated relative path. The empty path is
// the root itself; paths climbing above the root are rejected.
func CleanPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidPath)
	}
	if escapes(p) {
		return "", fmt.Errorf("%w: %q leaves its root", ErrInvalidPath, p)
	}
	return strings.TrimPrefix(path.Clean("/"+p), "/"), nil
}

// escapes reports whether resolving p segment by segment ever climbs above its root.
func escapes(p string) bool {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// SharingName is the final segment of rel, or fspName for the mount itself.
func SharingName(fspName, rel string) string {
	if rel == "" {
		return fspName
	}
	return path.Base(rel)
}

// NewSharingKey returns 128 random bits, base64url encoded without padding.
func NewSharingKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate sharing key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
