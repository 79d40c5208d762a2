package fileproxy

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/zeebo/blake3"
)

var (
	errNotDir = syscall.ENOTDIR

	errUnsatisfiableRange = errors.New("range not satisfiable")
)

// etag fingerprints an object by key, size and modification time; content is never hashed.
func etag(key string, size int64, modTime time.Time) string {
	h := blake3.New()
	_, _ = h.Write([]byte(key))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(size))
	binary.BigEndian.PutUint64(buf[8:], uint64(modTime.UnixNano()))
	_, _ = h.Write(buf[:])
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// byteRange is an inclusive range resolved against a size.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 { return r.end - r.start + 1 }

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseRange resolves a Range header against size. It returns nil for an
// absent, malformed or multi-range header, which all mean the full body.
func parseRange(header string, size int64) (*byteRange, error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(strings.TrimSpace(ranges), "-")
	if !ok {
		return nil, nil
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, errUnsatisfiableRange
		}
		return &byteRange{start: max(size-n, 0), end: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, nil
		}
		end = min(end, size-1)
	}
	if start >= size {
		return nil, errUnsatisfiableRange
	}
	return &byteRange{start: start, end: end}, nil
}

// setObjectHeaders describes the object at key; name is the file it was read from.
func setObjectHeaders(h http.Header, key, name string, size int64, modTime time.Time) {
	h.Set("Content-Type", contentType(name))
	h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	h.Set("ETag", etag(key, size, modTime))
	h.Set("Accept-Ranges", "bytes")
}
