package fsp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/groups/scicomp/data", "groups_scicomp_data"},
		{"//nrs/lab-name", "nrs_lab_name"},
		{"/a  b/c.d", "a_b_c_d"},
		{"relative", "relative"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestStaticStore(t *testing.T) {
	s, err := NewStaticStore([]string{"/tmp/zzz", "/srv/data/"})
	require.NoError(t, err)

	paths, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "srv_data", paths[0].Name)
	assert.Equal(t, "/srv/data", paths[0].MountPath)
	assert.Equal(t, "Local", paths[0].Zone)

	p, err := s.Get(context.Background(), "tmp_zzz")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/zzz", p.MountPath)

	_, err = s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownFileShare)
}

func TestStaticStoreRejectsCollisions(t *testing.T) {
	_, err := NewStaticStore([]string{"/a/b", "/a_b"})
	require.Error(t, err)

	_, err = NewStaticStore([]string{"relative/path"})
	require.Error(t, err)
}

func TestRowFileSharePath(t *testing.T) {
	p := Row{Zone: "Lab", LinuxPath: "/groups/lab/", WindowsPath: `\\server\lab`}.FileSharePath()
	assert.Equal(t, "groups_lab", p.Name)
	assert.Equal(t, "/groups/lab", p.MountPath)
	require.NotNil(t, p.WindowsPath)
	assert.Nil(t, p.MacPath)
	assert.Nil(t, p.Group)
}
