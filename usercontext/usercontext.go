// Package usercontext runs filesystem work under the identity of a named user.
//
// Effective credentials are process-wide in most runtimes, but on Linux they
// are a per-thread attribute of the kernel task. The enforcing Switcher pins a
// fresh goroutine to its OS thread and changes only that thread's credentials
// with raw syscalls, so concurrent requests never observe each other's identity.
package usercontext

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

var (
	ErrUnknownUser           = errors.New("unknown user")
	ErrPrivilegeChangeFailed = errors.New("privilege change failed")
	ErrUnsupported           = errors.New("identity switching is not supported on this platform")
)

// Switcher brackets fn with the identity of username. The original identity is
// restored on every exit path, including errors and panics in fn.
//
// WithUserIdentity returns ctx.Err() as soon as ctx ends, even while fn is
// still blocked in the filesystem. fn then runs to completion on its own and
// must release whatever it produces after the caller has gone.
type Switcher interface {
	WithUserIdentity(ctx context.Context, username string, fn func() error) error

	// Degraded reports that a restore failed at least once since start.
	Degraded() bool
}

// Identity is the numeric credential set of a user.
type Identity struct {
	Username string
	UID      uint32
	GID      uint32
	Groups   []uint32
}

// New returns the enforcing switcher when enforce is set and a no-op one otherwise.
// maxWorkers bounds the number of threads running with a narrowed identity.
func New(enforce bool, maxWorkers int) (Switcher, error) {
	if !enforce {
		return Noop{}, nil
	}
	return newEnforcing(maxWorkers)
}

// Lookup resolves username to its uid, primary gid and supplementary groups.
func Lookup(username string) (*Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}

	uid, err := parseID(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("user %s: uid: %w", username, err)
	}
	gid, err := parseID(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("user %s: gid: %w", username, err)
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("user %s: groups: %w", username, err)
	}
	groups := []uint32{gid}
	for _, g := range groupIDs {
		id, err := parseID(g)
		if err != nil {
			return nil, fmt.Errorf("user %s: group %q: %w", username, g, err)
		}
		if id != gid {
			groups = append(groups, id)
		}
	}

	return &Identity{Username: u.Username, UID: uid, GID: gid, Groups: groups}, nil
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

// Noop performs no identity change.
type Noop struct{}

func (Noop) WithUserIdentity(ctx context.Context, _ string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call(fn) }()
	return wait(ctx, done)
}

func (Noop) Degraded() bool { return false }

// wait prefers a finished result over an expired ctx.
func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in identity bracket: %v", r)
		}
	}()
	return fn()
}
