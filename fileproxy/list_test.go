package fileproxy

import (
	"context"
	"io/fs"
	"net/url"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() fstest.MapFS {
	mod := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s), ModTime: mod} }
	return fstest.MapFS{
		"a.txt":         file("a"),
		"b/c.txt":       file("cc"),
		"b/d/e.txt":     file("eee"),
		"b-x.txt":       file("bx"),
		"z/empty/.keep": file(""),
	}
}

func keys(l *listing) []string {
	var out []string
	for _, e := range l.entries {
		out = append(out, e.key)
	}
	return out
}

func mustParams(t *testing.T, q string) *listParams {
	t.Helper()
	v, err := url.ParseQuery("list-type=2&" + q)
	require.NoError(t, err)
	p, err := parseListParams(v)
	require.NoError(t, err)
	return p
}

func TestListRecursive(t *testing.T) {
	l, err := listEntries(context.Background(), testTree(), mustParams(t, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b-x.txt", "b/c.txt", "b/d/e.txt", "z/empty/.keep"}, keys(l))
	assert.False(t, l.truncated)
	assert.EqualValues(t, 3, l.entries[3].size)
}

func TestListDelimiter(t *testing.T) {
	l, err := listEntries(context.Background(), testTree(), mustParams(t, "delimiter=/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b-x.txt", "b/", "z/"}, keys(l))
	assert.True(t, l.entries[2].prefix)

	l, err = listEntries(context.Background(), testTree(), mustParams(t, "delimiter=/&prefix=b/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b/c.txt", "b/d/"}, keys(l))

	l, err = listEntries(context.Background(), testTree(), mustParams(t, "delimiter=/&prefix=b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b-x.txt", "b/"}, keys(l))
}

// deniedFS refuses to read one directory.
type deniedFS struct {
	fstest.MapFS
	dir string
}

func (f deniedFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == f.dir {
		return nil, &fs.PathError{Op: "readdirent", Path: name, Err: fs.ErrPermission}
	}
	return f.MapFS.ReadDir(name)
}

func TestListUnreadableDirectory(t *testing.T) {
	root := deniedFS{MapFS: testTree(), dir: "."}
	for _, q := range []string{"", "delimiter=/", "delimiter=-"} {
		_, err := listEntries(context.Background(), root, mustParams(t, q))
		require.ErrorIs(t, err, fs.ErrPermission, q)
	}

	sub := deniedFS{MapFS: testTree(), dir: "b"}
	_, err := listEntries(context.Background(), sub, mustParams(t, "prefix=b/&delimiter=/"))
	require.ErrorIs(t, err, fs.ErrPermission)
	_, err = listEntries(context.Background(), sub, mustParams(t, "prefix=b/"))
	require.ErrorIs(t, err, fs.ErrPermission)

	// an unreadable subtree below the listed directory is left out
	l, err := listEntries(context.Background(), sub, mustParams(t, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b-x.txt", "z/empty/.keep"}, keys(l))
}

func TestListOtherDelimiterRollsUp(t *testing.T) {
	l, err := listEntries(context.Background(), testTree(), mustParams(t, "delimiter=.&prefix=b/"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b/c.", "b/d/e."}, keys(l))
}

func TestListPrefixWithoutMatches(t *testing.T) {
	for _, prefix := range []string{"nope/", "../", "b/d/e.txt/x"} {
		l, err := listEntries(context.Background(), testTree(), mustParams(t, "prefix="+url.QueryEscape(prefix)))
		require.NoError(t, err, prefix)
		assert.Empty(t, l.entries, prefix)
	}
}

func TestListPagination(t *testing.T) {
	fsys := testTree()
	p := mustParams(t, "max-keys=2")
	var all []string
	for range 10 {
		l, err := listEntries(context.Background(), fsys, p)
		require.NoError(t, err)
		all = append(all, keys(l)...)
		res, err := listResult("bucket", p, l, "alice")
		require.NoError(t, err)
		assert.Equal(t, len(l.entries), res.KeyCount)
		if !res.IsTruncated {
			assert.Empty(t, res.NextContinuationToken)
			break
		}
		require.NotEmpty(t, res.NextContinuationToken)
		p = mustParams(t, "max-keys=2&continuation-token="+res.NextContinuationToken)
	}
	assert.Equal(t, []string{"a.txt", "b-x.txt", "b/c.txt", "b/d/e.txt", "z/empty/.keep"}, all)
}

func TestListStartAfter(t *testing.T) {
	l, err := listEntries(context.Background(), testTree(), mustParams(t, "start-after=b-x.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b/c.txt", "b/d/e.txt", "z/empty/.keep"}, keys(l))
}

func TestParseListParamsRejects(t *testing.T) {
	for _, q := range []string{
		"",
		"list-type=1",
		"list-type=2&max-keys=-1",
		"list-type=2&max-keys=ten",
		"list-type=2&encoding-type=base64",
		"list-type=2&fetch-owner=maybe",
		"list-type=2&continuation-token=%21%21",
	} {
		v, err := url.ParseQuery(q)
		require.NoError(t, err)
		_, err = parseListParams(v)
		assert.ErrorIs(t, err, errInvalidListParam, q)
	}

	p := mustParams(t, "max-keys=5000")
	assert.Equal(t, maxKeysLimit, p.MaxKeys)
}

func TestListResultEncoding(t *testing.T) {
	p := mustParams(t, "encoding-type=url&fetch-owner=true&prefix=a%20b/")
	l := &listing{entries: []entry{
		{key: "a b/c d.txt", size: 1, modTime: time.Unix(0, 0)},
		{key: "a b/e f/", prefix: true},
	}}
	res, err := listResult("bucket", p, l, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a+b/", res.Prefix)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "a+b/c+d.txt", res.Contents[0].Key)
	assert.Equal(t, "1970-01-01T00:00:00.000Z", res.Contents[0].LastModified)
	require.NotNil(t, res.Contents[0].Owner)
	assert.Equal(t, "alice", res.Contents[0].Owner.ID)
	require.Len(t, res.CommonPrefixes, 1)
	assert.Equal(t, "a+b/e+f/", res.CommonPrefixes[0].Prefix)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		header      string
		size        int64
		want        *byteRange
		unsatisfied bool
	}{
		{header: "", size: 10},
		{header: "bytes=0-3", size: 10, want: &byteRange{0, 3}},
		{header: "bytes=5-", size: 10, want: &byteRange{5, 9}},
		{header: "bytes=-4", size: 10, want: &byteRange{6, 9}},
		{header: "bytes=-40", size: 10, want: &byteRange{0, 9}},
		{header: "bytes=8-100", size: 10, want: &byteRange{8, 9}},
		{header: "bytes=0-1,4-5", size: 10},
		{header: "bytes=3-1", size: 10},
		{header: "items=0-1", size: 10},
		{header: "bytes=10-", size: 10, unsatisfied: true},
		{header: "bytes=-0", size: 10, unsatisfied: true},
		{header: "bytes=0-0", size: 0, unsatisfied: true},
	}
	for _, tt := range tests {
		got, err := parseRange(tt.header, tt.size)
		if tt.unsatisfied {
			assert.ErrorIs(t, err, errUnsatisfiableRange, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := encodeToken("b/d/e.txt")
	require.NoError(t, err)
	last, err := decodeToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "b/d/e.txt", last)
}
