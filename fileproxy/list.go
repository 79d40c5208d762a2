package fileproxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const maxKeysLimit = 1000

// listParams are the ListObjectsV2 query parameters.
type listParams struct {
	Prefix            string
	Delimiter         string
	StartAfter        string
	ContinuationToken string
	MaxKeys           int
	FetchOwner        bool
	EncodingType      string

	// after is the exclusive lower bound derived from StartAfter and the token.
	after string
}

type continuation struct {
	LastKey string `cbor:"1,keyasint"`
}

func encodeToken(lastKey string) (string, error) {
	b, err := cbor.Marshal(continuation{LastKey: lastKey})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	var c continuation
	if err := cbor.Unmarshal(b, &c); err != nil {
		return "", err
	}
	return c.LastKey, nil
}

var errInvalidListParam = errors.New("invalid list parameter")

func parseListParams(q url.Values) (*listParams, error) {
	if lt := q.Get("list-type"); lt != "2" {
		return nil, fmt.Errorf("%w: list-type %q is not supported", errInvalidListParam, lt)
	}
	p := &listParams{
		Prefix:            q.Get("prefix"),
		Delimiter:         q.Get("delimiter"),
		StartAfter:        q.Get("start-after"),
		ContinuationToken: q.Get("continuation-token"),
		MaxKeys:           maxKeysLimit,
		EncodingType:      q.Get("encoding-type"),
	}
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: max-keys %q", errInvalidListParam, v)
		}
		p.MaxKeys = min(n, maxKeysLimit)
	}
	if v := q.Get("fetch-owner"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch-owner %q", errInvalidListParam, v)
		}
		p.FetchOwner = b
	}
	if p.EncodingType != "" && p.EncodingType != "url" {
		return nil, fmt.Errorf("%w: encoding-type %q", errInvalidListParam, p.EncodingType)
	}

	p.after = p.StartAfter
	if p.ContinuationToken != "" {
		last, err := decodeToken(p.ContinuationToken)
		if err != nil {
			return nil, fmt.Errorf("%w: continuation-token: %w", errInvalidListParam, err)
		}
		if last > p.after {
			p.after = last
		}
	}
	return p, nil
}

// entry is a listed file or, when prefix is set, a rolled up common prefix.
type entry struct {
	key     string
	size    int64
	modTime time.Time
	prefix  bool
}

// listing is the page selected by listParams.
type listing struct {
	entries   []entry
	truncated bool
}

// listEntries lists fsys, whose root is the share root. Keys are slash
// separated paths relative to that root. A "/" delimiter reads only the
// directory named by the prefix; anything else walks the tree below it.
func listEntries(ctx context.Context, fsys fs.FS, p *listParams) (*listing, error) {
	var (
		all []entry
		err error
	)
	if p.Delimiter == "/" {
		all, err = readPrefixDir(ctx, fsys, p.Prefix)
	} else {
		all, err = walkPrefix(ctx, fsys, p.Prefix)
		if err == nil && p.Delimiter != "" {
			all = rollUp(all, p.Prefix, p.Delimiter)
		}
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })

	out := &listing{}
	if p.MaxKeys == 0 {
		return out, nil
	}
	for _, e := range all {
		if e.key <= p.after {
			continue
		}
		if len(out.entries) == p.MaxKeys {
			out.truncated = true
			break
		}
		out.entries = append(out.entries, e)
	}
	return out, nil
}

// prefixDir is the directory holding every key that starts with prefix.
func prefixDir(prefix string) string {
	i := strings.LastIndex(prefix, "/")
	if i < 0 {
		return "."
	}
	d := path.Clean(prefix[:i])
	if d == "" {
		return "."
	}
	return d
}

func readPrefixDir(ctx context.Context, fsys fs.FS, prefix string) ([]entry, error) {
	dir := prefixDir(prefix)
	if !fs.ValidPath(dir) {
		return nil, nil
	}
	items, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errNotDir) {
			return nil, nil
		}
		return nil, err
	}
	var out []entry
	for _, d := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := d.Name()
		if dir != "." {
			key = dir + "/" + key
		}
		e, ok := statEntry(fsys, key, d)
		if !ok {
			continue
		}
		if e.prefix {
			e.key += "/"
		}
		if strings.HasPrefix(e.key, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

func walkPrefix(ctx context.Context, fsys fs.FS, prefix string) ([]entry, error) {
	dir := prefixDir(prefix)
	if !fs.ValidPath(dir) {
		return nil, nil
	}
	var out []entry
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if p == dir && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, errNotDir)) {
				return fs.SkipAll
			}
			// unreadable subtrees are left out; an unreadable listed directory is an error
			if errors.Is(err, fs.ErrPermission) && p != dir {
				return nil
			}
			return err
		}
		if p == "." {
			return nil
		}
		if d.IsDir() {
			// skip subtrees that cannot contain the prefix
			if !strings.HasPrefix(p+"/", prefix) && !strings.HasPrefix(prefix, p+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(p, prefix) {
			return nil
		}
		if e, ok := statEntry(fsys, p, d); ok && !e.prefix {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// statEntry describes d. Symlinks are followed inside the root. Links to
// directories are dropped, as are links that dangle or escape.
func statEntry(fsys fs.FS, key string, d fs.DirEntry) (entry, bool) {
	var (
		info fs.FileInfo
		err  error
	)
	if d.Type()&fs.ModeSymlink != 0 {
		info, err = fs.Stat(fsys, key)
	} else {
		info, err = d.Info()
	}
	if err != nil {
		return entry{}, false
	}
	switch {
	case info.IsDir():
		return entry{key: key, prefix: true}, d.Type()&fs.ModeSymlink == 0
	case info.Mode().IsRegular():
		return entry{key: key, size: info.Size(), modTime: info.ModTime()}, true
	default:
		return entry{}, false
	}
}

// rollUp groups keys sharing the text between prefix and the next delimiter.
func rollUp(entries []entry, prefix, delimiter string) []entry {
	var out []entry
	seen := map[string]bool{}
	for _, e := range entries {
		rest := e.key[len(prefix):]
		i := strings.Index(rest, delimiter)
		if i < 0 {
			out = append(out, e)
			continue
		}
		cp := prefix + rest[:i+len(delimiter)]
		if !seen[cp] {
			seen[cp] = true
			out = append(out, entry{key: cp, prefix: true})
		}
	}
	return out
}

func encodeKey(s, encoding string) string {
	if encoding != "url" {
		return s
	}
	return strings.ReplaceAll(url.QueryEscape(s), "%2F", "/")
}

// listResult renders a page as a ListBucketResult.
func listResult(bucket string, p *listParams, l *listing, ownerName string) (*listBucketResult, error) {
	res := &listBucketResult{
		Xmlns:             s3Namespace,
		Name:              bucket,
		Prefix:            encodeKey(p.Prefix, p.EncodingType),
		Delimiter:         encodeKey(p.Delimiter, p.EncodingType),
		MaxKeys:           p.MaxKeys,
		KeyCount:          len(l.entries),
		IsTruncated:       l.truncated,
		EncodingType:      p.EncodingType,
		ContinuationToken: p.ContinuationToken,
		StartAfter:        encodeKey(p.StartAfter, p.EncodingType),
	}
	for _, e := range l.entries {
		if e.prefix {
			res.CommonPrefixes = append(res.CommonPrefixes, commonPrefix{Prefix: encodeKey(e.key, p.EncodingType)})
			continue
		}
		o := object{
			Key:          encodeKey(e.key, p.EncodingType),
			LastModified: e.modTime.UTC().Format(timeFormat),
			ETag:         etag(e.key, e.size, e.modTime),
			Size:         e.size,
			StorageClass: "STANDARD",
		}
		if p.FetchOwner {
			o.Owner = &owner{ID: ownerName, DisplayName: ownerName}
		}
		res.Contents = append(res.Contents, o)
	}
	if l.truncated && len(l.entries) > 0 {
		token, err := encodeToken(l.entries[len(l.entries)-1].key)
		if err != nil {
			return nil, err
		}
		res.NextContinuationToken = token
	}
	return res, nil
}
