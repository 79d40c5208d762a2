// Package fsp maintains the mapping from file share path names to mount points.
package fsp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"fileglancer/dao/model"
)

var ErrUnknownFileShare = errors.New("unknown file share path")

// Store resolves file share path names. Implementations are safe for concurrent use.
type Store interface {
	List(ctx context.Context) ([]model.FileSharePath, error)
	Get(ctx context.Context, name string) (*model.FileSharePath, error)
}

var (
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscore = regexp.MustCompile(`_+`)
)

// Slugify turns a mount path into a stable name: leading slashes are dropped
// and every run of non-alphanumeric characters becomes one underscore.
func Slugify(path string) string {
	s := strings.TrimLeft(path, "/")
	s = nonAlnum.ReplaceAllString(s, "_")
	return underscore.ReplaceAllString(s, "_")
}

// Row is one line of the external file share path table.
type Row struct {
	Zone        string
	Storage     string
	MacPath     string
	WindowsPath string
	LinuxPath   string
	Group       string
}

// FileSharePath converts the row; the Linux path is the mount path and the
// source of the name.
func (r Row) FileSharePath() model.FileSharePath {
	mount := filepath.Clean(r.LinuxPath)
	return model.FileSharePath{
		Name:        Slugify(mount),
		Zone:        r.Zone,
		Group:       optional(r.Group),
		Storage:     optional(r.Storage),
		MountPath:   mount,
		MacPath:     optional(r.MacPath),
		WindowsPath: optional(r.WindowsPath),
		LinuxPath:   optional(r.LinuxPath),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StaticStore serves a fixed list of mounts derived once from configuration.
type StaticStore struct {
	paths  []model.FileSharePath
	byName map[string]*model.FileSharePath
}

func NewStaticStore(mounts []string) (*StaticStore, error) {
	s := &StaticStore{byName: make(map[string]*model.FileSharePath, len(mounts))}
	for _, m := range mounts {
		mount := filepath.Clean(m)
		if !filepath.IsAbs(mount) {
			return nil, fmt.Errorf("file share mount %q is not absolute", m)
		}
		p := model.FileSharePath{
			Name:      Slugify(mount),
			Zone:      "Local",
			MountPath: mount,
			LinuxPath: optional(mount),
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("file share mounts collide on name %q", p.Name)
		}
		s.paths = append(s.paths, p)
		s.byName[p.Name] = &s.paths[len(s.paths)-1]
	}
	// byName points into paths; rebuild after sorting.
	sort.Slice(s.paths, func(i, j int) bool { return s.paths[i].Name < s.paths[j].Name })
	for i := range s.paths {
		s.byName[s.paths[i].Name] = &s.paths[i]
	}
	return s, nil
}

func (s *StaticStore) List(context.Context) ([]model.FileSharePath, error) {
	out := make([]model.FileSharePath, len(s.paths))
	copy(out, s.paths)
	return out, nil
}

func (s *StaticStore) Get(_ context.Context, name string) (*model.FileSharePath, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFileShare, name)
	}
	cp := *p
	return &cp, nil
}
