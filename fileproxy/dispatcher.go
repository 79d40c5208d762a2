// Package fileproxy serves shared paths through a read-only subset of the S3 API.
//
// A request is addressed as /files/{sharing_key}/{sharing_name}[/{path}]. The
// sharing name plays the role of the bucket and the path the role of the key.
// Filesystem access happens under the identity of the share's owner.
package fileproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"fileglancer/logutils"
	"fileglancer/metrics"
	"fileglancer/proxied"
	"fileglancer/usercontext"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

const (
	opACL  = "acl"
	opList = "list"
	opGet  = "get"
	opHead = "head"
)

// Resolver authenticates a sharing key together with its sharing name.
type Resolver interface {
	Resolve(ctx context.Context, key, name string) (*proxied.Target, error)
}

type Options struct {
	// FSTimeout bounds the filesystem work of one request, not the transfer of a body.
	FSTimeout time.Duration
}

type Dispatcher struct {
	resolver Resolver
	identity usercontext.Switcher
	opts     Options
}

func NewDispatcher(resolver Resolver, identity usercontext.Switcher, opts Options) *Dispatcher {
	return &Dispatcher{resolver: resolver, identity: identity, opts: opts}
}

// SplitPath separates the sharing name from the object path in what follows
// the sharing key.
func SplitPath(rest string) (name, subPath string) {
	name, subPath, _ = strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	return name, subPath
}

func operation(r *http.Request) string {
	q := r.URL.Query()
	switch {
	case q.Has("acl"):
		return opACL
	case r.Method == http.MethodHead:
		return opHead
	case q.Has("list-type"):
		return opList
	default:
		return opGet
	}
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get(RequestIDHeader); id != "" {
		return id
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// request carries the state of one proxy request once its share is resolved.
type request struct {
	w        http.ResponseWriter
	r        *http.Request
	id       string
	resource string
	target   *proxied.Target
	// base is the share root relative to the mount, sub the object below it.
	base string
	sub  string
}

// Serve handles one GET or HEAD request for the share addressed by key and name.
func (d *Dispatcher) Serve(w http.ResponseWriter, r *http.Request, key, name, subPath string) {
	start := time.Now()
	op := operation(r)
	id := requestID(w, r)
	w.Header().Set("x-amz-request-id", id)

	resource := "/" + name
	if subPath != "" {
		resource += "/" + subPath
	}
	log := logutils.Log.WithFields(logutils.Fields{
		"request_id": id,
		"op":         op,
		"resource":   resource,
	})

	code := "OK"
	defer func() { metrics.ObserveProxyRequest(op, code, time.Since(start)) }()
	fail := func(e *Error) {
		code = e.Code
		if e.Status() >= http.StatusInternalServerError {
			log.WithError(e).Error("Proxy request failed")
		} else {
			log.WithError(e).Info("Proxy request rejected")
		}
		writeError(w, r, e, id)
	}

	if op == opACL {
		writeXML(w, http.StatusOK, readOnlyACL)
		return
	}

	target, err := d.resolver.Resolve(r.Context(), key, name)
	if err != nil {
		fail(resolveError(err, name, resource))
		return
	}

	// Containment is decided on the names alone, before any filesystem call.
	base, err := proxied.CleanPath(target.Share.Path)
	if err != nil {
		fail(newError(CodeAccessDenied, resource, "The share leaves its file share path", err))
		return
	}
	sub, err := proxied.CleanPath(subPath)
	if err != nil {
		fail(newError(CodeAccessDenied, resource, "The requested path leaves the share", err))
		return
	}

	ctx := r.Context()
	if d.opts.FSTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.FSTimeout)
		defer cancel()
	}

	req := &request{w: w, r: r, id: id, resource: resource, target: target, base: base, sub: sub}
	if op == opList {
		err = d.list(ctx, req)
	} else {
		err = d.object(ctx, req)
	}
	if err != nil {
		fail(fsError(err, resource))
	}
}

// withShareRoot runs fn as the share owner with the share root opened as an
// os.Root, which refuses any name or symlink resolving outside of it.
func (d *Dispatcher) withShareRoot(ctx context.Context, req *request, fn func(share *os.Root) error) error {
	return d.identity.WithUserIdentity(ctx, req.target.Share.Username, func() error {
		mount, err := os.OpenRoot(req.target.FSP.MountPath)
		if err != nil {
			return err
		}
		defer mount.Close()
		if req.base == "" {
			return fn(mount)
		}
		share, err := mount.OpenRoot(req.base)
		if err != nil {
			return err
		}
		defer share.Close()
		return fn(share)
	})
}

func (d *Dispatcher) list(ctx context.Context, req *request) error {
	params, err := parseListParams(req.r.URL.Query())
	if err != nil {
		return newError(CodeInvalidArgument, req.resource, err.Error(), err)
	}
	if req.sub != "" {
		// a path below the bucket lists that directory; keys stay bucket relative
		params.Prefix = req.sub + "/" + params.Prefix
	}

	out := &handoff[*listing]{}
	err = d.withShareRoot(ctx, req, func(share *os.Root) error {
		page, err := listEntries(ctx, share.FS(), params)
		if err != nil {
			return err
		}
		out.put(page)
		return nil
	})
	page, _ := out.take()
	if errors.Is(err, errNotDir) {
		// a share of a single file lists as empty
		page, err = &listing{}, nil
	}
	if err != nil {
		return err
	}

	res, err := listResult(req.target.Share.SharingName, params, page, req.target.Share.Username)
	if err != nil {
		return err
	}
	writeXML(req.w, http.StatusOK, res)
	return nil
}

// openedObject is a descriptor opened as the share owner; reads need no credentials.
type openedObject struct {
	f    *os.File
	info fs.FileInfo
}

func (d *Dispatcher) object(ctx context.Context, req *request) error {
	out := &handoff[openedObject]{release: func(o openedObject) { o.f.Close() }}
	err := d.identity.WithUserIdentity(ctx, req.target.Share.Username, func() error {
		f, err := openObject(req)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		out.put(openedObject{f: f, info: info})
		return nil
	})
	obj, ok := out.take()
	if ok {
		defer obj.f.Close()
	}
	if err != nil {
		return err
	}
	f, info := obj.f, obj.info

	if info.IsDir() {
		switch {
		case req.sub != "":
			return newError(CodeNoSuchKey, req.resource, "The specified key does not exist.", nil)
		case req.r.Method == http.MethodHead:
			// HeadBucket
			req.w.WriteHeader(http.StatusOK)
			return nil
		default:
			return newError(CodeInvalidArgument, req.resource, "Only ListObjectsV2 (list-type=2) is supported", nil)
		}
	}

	key := req.sub
	if key == "" {
		key = path.Base(req.base)
	}
	size := info.Size()
	h := req.w.Header()
	setObjectHeaders(h, key, info.Name(), size, info.ModTime())

	rng, err := parseRange(req.r.Header.Get("Range"), size)
	if err != nil {
		h.Del("ETag")
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		return newError(CodeInvalidRange, req.resource, "The requested range is not satisfiable", err)
	}
	status, offset, length := http.StatusOK, int64(0), size
	if rng != nil {
		status, offset, length = http.StatusPartialContent, rng.start, rng.length()
		h.Set("Content-Range", rng.contentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	if req.r.Method == http.MethodHead {
		req.w.WriteHeader(status)
		return nil
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}
	req.w.WriteHeader(status)
	n, err := io.CopyN(req.w, f, length)
	metrics.AddBytesServed(n)
	if err != nil {
		// headers are gone; all that is left is to log
		logutils.Log.WithFields(logutils.Fields{
			"request_id": req.id,
			"resource":   req.resource,
			"written":    n,
		}).WithError(err).Warn("Proxy transfer aborted")
	}
	return nil
}

// openObject opens the share root itself, which may be a file, or a name
// confined to the share root.
func openObject(req *request) (*os.File, error) {
	mount, err := os.OpenRoot(req.target.FSP.MountPath)
	if err != nil {
		return nil, err
	}
	defer mount.Close()
	if req.sub == "" {
		if req.base == "" {
			return mount.Open(".")
		}
		return mount.Open(req.base)
	}
	share := mount
	if req.base != "" {
		if share, err = mount.OpenRoot(req.base); err != nil {
			return nil, err
		}
		defer share.Close()
	}
	return share.Open(req.sub)
}
