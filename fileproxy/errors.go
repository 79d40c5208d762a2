package fileproxy

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"fileglancer/fsp"
	"fileglancer/proxied"
	"fileglancer/usercontext"
)

// S3 error codes emitted by the proxy.
const (
	CodeNoSuchBucket       = "NoSuchBucket"
	CodeNoSuchKey          = "NoSuchKey"
	CodeInvalidArgument    = "InvalidArgument"
	CodeAccessDenied       = "AccessDenied"
	CodeInvalidRange       = "InvalidRange"
	CodeServiceUnavailable = "ServiceUnavailable"
	CodeInternalError      = "InternalError"
)

var statusByCode = map[string]int{
	CodeNoSuchBucket:       http.StatusNotFound,
	CodeNoSuchKey:          http.StatusNotFound,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeAccessDenied:       http.StatusForbidden,
	CodeInvalidRange:       http.StatusRequestedRangeNotSatisfiable,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeInternalError:      http.StatusInternalServerError,
}

// Error is a failed proxy request, rendered as an S3 error document.
type Error struct {
	Code     string
	Message  string
	Resource string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newError(code, resource, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Resource: resource, cause: cause}
}

type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// writeError renders e; HEAD responses carry the status only.
func writeError(w http.ResponseWriter, r *http.Request, e *Error, requestID string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(e.Status())
		return
	}
	writeXML(w, e.Status(), errorDocument{
		Code:      e.Code,
		Message:   e.Message,
		Resource:  e.Resource,
		RequestID: requestID,
	})
}

// resolveError maps registry and metadata failures. Nothing has touched the
// filesystem yet when these occur.
func resolveError(err error, name, resource string) *Error {
	switch {
	case errors.Is(err, proxied.ErrShareNotFound):
		return newError(CodeNoSuchBucket, name, "The specified bucket does not exist", err)
	case errors.Is(err, proxied.ErrShareNameMismatch):
		return newError(CodeInvalidArgument, resource, "Sharing name does not match the sharing key", err)
	case errors.Is(err, fsp.ErrUnknownFileShare):
		return newError(CodeInvalidArgument, resource, "The share refers to an unknown file share path", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(CodeServiceUnavailable, resource, "Please reduce your request rate", err)
	default:
		return newError(CodeInternalError, resource, "We encountered an internal error. Please try again.", err)
	}
}

// fsError maps failures from the identity bracket and the filesystem.
func fsError(err error, resource string) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(CodeServiceUnavailable, resource, "The filesystem did not respond in time", err)
	case errors.Is(err, usercontext.ErrUnknownUser), errors.Is(err, usercontext.ErrPrivilegeChangeFailed):
		return newError(CodeInternalError, resource, "We encountered an internal error. Please try again.", err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errNotDir):
		return newError(CodeNoSuchKey, resource, "The specified key does not exist.", err)
	case errors.Is(err, fs.ErrPermission), escapesRoot(err):
		return newError(CodeAccessDenied, resource, "Access Denied", err)
	default:
		return newError(CodeInternalError, resource, "We encountered an internal error. Please try again.", err)
	}
}

// escapesRoot recognizes os.Root refusing a path or symlink that leaves the
// root. The error value is not exported by the os package.
func escapesRoot(err error) bool {
	return err != nil && strings.Contains(err.Error(), "path escapes from parent")
}

// WriteError answers a proxy request that was refused before reaching the
// Dispatcher, such as by throttling.
func WriteError(w http.ResponseWriter, r *http.Request, code, message, resource string) {
	writeError(w, r, newError(code, resource, message, nil), requestID(w, r))
}
