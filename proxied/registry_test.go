package proxied

import (
	"context"
	"path/filepath"
	"testing"

	"fileglancer/dao/query"
	"fileglancer/fsp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := query.OpenDSN("sqlite", filepath.Join(t.TempDir(), "proxied.db"))
	require.NoError(t, err)
	paths, err := fsp.NewStaticStore([]string{"/data/lab1", "/data/lab2"})
	require.NoError(t, err)
	return NewRegistry(db, paths)
}

func TestCreateAndResolve(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	p, err := r.Create(ctx, "alice", "data_lab1", "proj/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "readme.txt", p.SharingName)
	assert.Equal(t, "proj/readme.txt", p.Path)
	assert.Len(t, p.SharingKey, 22)

	target, err := r.Resolve(ctx, p.SharingKey, "readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "alice", target.Share.Username)
	assert.Equal(t, "/data/lab1", target.FSP.MountPath)

	_, err = r.Resolve(ctx, p.SharingKey, "README.txt")
	require.ErrorIs(t, err, ErrShareNameMismatch)

	_, err = r.Resolve(ctx, "no-such-key", "readme.txt")
	require.ErrorIs(t, err, ErrShareNotFound)
}

func TestCreateValidates(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Create(ctx, "alice", "nope", "x")
	require.ErrorIs(t, err, fsp.ErrUnknownFileShare)

	_, err = r.Create(ctx, "alice", "data_lab1", "../lab2/secret")
	require.ErrorIs(t, err, ErrInvalidPath)

	root, err := r.Create(ctx, "alice", "data_lab1", "")
	require.NoError(t, err)
	assert.Equal(t, "data_lab1", root.SharingName)
	assert.Equal(t, "", root.Path)
}

func TestKeysAreUniqueForOverlappingShares(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	a, err := r.Create(ctx, "alice", "data_lab1", "proj")
	require.NoError(t, err)
	b, err := r.Create(ctx, "alice", "data_lab1", "proj/")
	require.NoError(t, err)
	assert.NotEqual(t, a.SharingKey, b.SharingKey)
	assert.Equal(t, a.Path, b.Path)
}

func TestOwnerOperations(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	p, err := r.Create(ctx, "alice", "data_lab1", "proj")
	require.NoError(t, err)
	_, err = r.Create(ctx, "alice", "data_lab2", "other")
	require.NoError(t, err)
	_, err = r.Create(ctx, "bob", "data_lab1", "proj")
	require.NoError(t, err)

	_, err = r.GetForOwner(ctx, "bob", p.SharingKey)
	require.ErrorIs(t, err, ErrNotFound)

	newPath := "proj/sub"
	_, err = r.Update(ctx, "bob", p.SharingKey, Changes{Path: &newPath})
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := r.Update(ctx, "alice", p.SharingKey, Changes{Path: &newPath})
	require.NoError(t, err)
	assert.Equal(t, "proj/sub", updated.Path)
	assert.Equal(t, "sub", updated.SharingName)

	name := "renamed"
	lab2 := "data_lab2"
	updated, err = r.Update(ctx, "alice", p.SharingKey, Changes{SharingName: &name, FSPName: &lab2})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.SharingName)
	assert.Equal(t, "data_lab2", updated.FSPName)

	bad := "a/b"
	_, err = r.Update(ctx, "alice", p.SharingKey, Changes{SharingName: &bad})
	require.ErrorIs(t, err, ErrInvalidName)

	unknown := "nope"
	_, err = r.Update(ctx, "alice", p.SharingKey, Changes{FSPName: &unknown})
	require.ErrorIs(t, err, fsp.ErrUnknownFileShare)

	all, err := r.List(ctx, "alice", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := r.List(ctx, "alice", "data_lab2", "proj/sub")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, p.SharingKey, filtered[0].SharingKey)

	n, err := r.Delete(ctx, "bob", p.SharingKey)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.Delete(ctx, "alice", p.SharingKey)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = r.Delete(ctx, "alice", p.SharingKey)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: ""},
		{in: "/", want: ""},
		{in: "a/b/", want: "a/b"},
		{in: "a/./b", want: "a/b"},
		{in: "a/../b", want: "b"},
		{in: "..", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: "/../etc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPath, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
