//go:build linux && (amd64 || arm64)

package usercontext

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"fileglancer/logutils"
	"fileglancer/metrics"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// keep the current value of a setres*id argument
const unchanged = ^uintptr(0)

type threadSwitcher struct {
	origUID    uint32
	origGID    uint32
	origGroups []uint32

	lookup   func(string) (*Identity, error)
	workers  *semaphore.Weighted
	degraded atomic.Bool
}

func newEnforcing(maxWorkers int) (Switcher, error) {
	s, err := newThreadSwitcher(maxWorkers, Lookup)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newThreadSwitcher captures the identity of the calling thread, which must be
// the unconstrained identity of the process.
func newThreadSwitcher(maxWorkers int, lookup func(string) (*Identity, error)) (*threadSwitcher, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	groups, err := unix.Getgroups()
	if err != nil {
		return nil, fmt.Errorf("read supplementary groups: %w", err)
	}
	orig := make([]uint32, len(groups))
	for i, g := range groups {
		orig[i] = uint32(g)
	}
	return &threadSwitcher{
		origUID:    uint32(unix.Geteuid()),
		origGID:    uint32(unix.Getegid()),
		origGroups: orig,
		lookup:     lookup,
		workers:    semaphore.NewWeighted(int64(maxWorkers)),
	}, nil
}

func (s *threadSwitcher) Degraded() bool {
	return s.degraded.Load()
}

func (s *threadSwitcher) WithUserIdentity(ctx context.Context, username string, fn func() error) error {
	id, err := s.lookup(username)
	if err != nil {
		return err
	}
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return err
	}

	// The worker restores its own thread, so the caller may stop waiting when
	// ctx ends. The worker keeps its slot until it has restored.
	done := make(chan error, 1)
	go func() {
		defer s.workers.Release(1)
		s.run(id, fn, done)
	}()
	return wait(ctx, done)
}

func (s *threadSwitcher) run(id *Identity, fn func() error, done chan<- error) {
	// A locked thread never hands its credentials to threads the runtime
	// spawns later: new Ms are cloned from the template thread instead.
	runtime.LockOSThread()
	metrics.IdentityWorkerStarted()
	defer metrics.IdentityWorkerDone()

	if tainted, err := s.enter(id); err != nil {
		if tainted {
			s.markDegraded(id.Username, err)
		} else {
			runtime.UnlockOSThread()
		}
		done <- err
		return
	}

	err := call(fn)

	if rerr := s.exit(); rerr != nil {
		// Leave the thread locked: the runtime terminates it with this goroutine.
		s.markDegraded(id.Username, rerr)
		done <- err
		return
	}
	runtime.UnlockOSThread()
	done <- err
}

// enter sets the effective gid, then the supplementary groups, then the
// effective uid. Groups can only change while the thread still holds its
// original privileges. On failure the earlier steps are unwound; tainted
// reports that unwinding failed too.
func (s *threadSwitcher) enter(id *Identity) (tainted bool, err error) {
	log := logutils.Log.WithField("user", id.Username)
	log.Debug("Prepare user context")

	if err := setresgid(id.GID); err != nil {
		log.WithError(err).Error("Failed to set the effective gid")
		return false, fmt.Errorf("%w: set effective gid %d: %w", ErrPrivilegeChangeFailed, id.GID, err)
	}

	if err := setgroups(id.Groups); err != nil {
		log.WithError(err).Error("Failed to set the user groups")
		uerr := setresgid(s.origGID)
		return uerr != nil, fmt.Errorf("%w: set groups: %w", ErrPrivilegeChangeFailed, errors.Join(err, uerr))
	}

	if err := setresuid(id.UID); err != nil {
		log.WithError(err).Error("Failed to set the effective uid")
		uerr := errors.Join(setgroups(s.origGroups), setresgid(s.origGID))
		return uerr != nil, fmt.Errorf("%w: set effective uid %d: %w", ErrPrivilegeChangeFailed, id.UID, errors.Join(err, uerr))
	}
	return false, nil
}

// exit restores the identity captured at construction. The uid goes first so
// the thread regains the privilege needed for the group calls.
func (s *threadSwitcher) exit() error {
	logutils.Log.Debug("Release user context")
	if err := setresuid(s.origUID); err != nil {
		return fmt.Errorf("restore effective uid: %w", err)
	}
	if err := setgroups(s.origGroups); err != nil {
		return fmt.Errorf("restore groups: %w", err)
	}
	if err := setresgid(s.origGID); err != nil {
		return fmt.Errorf("restore effective gid: %w", err)
	}
	return nil
}

func (s *threadSwitcher) markDegraded(username string, err error) {
	s.degraded.Store(true)
	metrics.PrivilegeRestoreFailed()
	logutils.Log.WithFields(logutils.Fields{
		"user":  username,
		"error": err,
	}).Error("Failed to restore the original identity; the worker thread is discarded and the process should be restarted")
}

func setresuid(euid uint32) error {
	_, _, errno := unix.RawSyscall(unix.SYS_SETRESUID, unchanged, uintptr(euid), unchanged)
	if errno != 0 {
		return errno
	}
	return nil
}

func setresgid(egid uint32) error {
	_, _, errno := unix.RawSyscall(unix.SYS_SETRESGID, unchanged, uintptr(egid), unchanged)
	if errno != 0 {
		return errno
	}
	return nil
}

func setgroups(gids []uint32) error {
	var p unsafe.Pointer
	if len(gids) > 0 {
		p = unsafe.Pointer(&gids[0])
	}
	_, _, errno := unix.RawSyscall(unix.SYS_SETGROUPS, uintptr(len(gids)), uintptr(p), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
