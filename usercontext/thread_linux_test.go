//go:build linux && (amd64 || arm64)

package usercontext

import (
	"context"
	"errors"
	"os/user"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if unix.Geteuid() != 0 {
		t.Skip("requires root")
	}
}

func nobody(t *testing.T) *Identity {
	t.Helper()
	id, err := Lookup("nobody")
	if err != nil {
		t.Skip("no nobody user on this system")
	}
	return id
}

func TestThreadSwitcherUnknownUser(t *testing.T) {
	s, err := newThreadSwitcher(2, Lookup)
	require.NoError(t, err)

	called := false
	err = s.WithUserIdentity(context.Background(), "fileglancer-no-such-user-3f9a", func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrUnknownUser)
	assert.False(t, called)
}

func TestThreadSwitcherWithoutPrivilegeFails(t *testing.T) {
	if unix.Geteuid() == 0 {
		t.Skip("requires an unprivileged user")
	}
	current, err := user.Current()
	if err != nil || current.Username == "" {
		t.Skip("current user has no passwd entry")
	}

	s, err := newThreadSwitcher(2, Lookup)
	require.NoError(t, err)
	before := unix.Geteuid()

	called := false
	err = s.WithUserIdentity(context.Background(), current.Username, func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrPrivilegeChangeFailed)
	assert.False(t, called)
	assert.Equal(t, before, unix.Geteuid())
	assert.False(t, s.Degraded())
}

func TestThreadSwitcherNarrowsOnlyTheWorkerThread(t *testing.T) {
	requireRoot(t)
	target := nobody(t)

	s, err := newThreadSwitcher(2, Lookup)
	require.NoError(t, err)

	var euid, egid int
	err = s.WithUserIdentity(context.Background(), "nobody", func() error {
		euid = unix.Geteuid()
		egid = unix.Getegid()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int(target.UID), euid)
	assert.Equal(t, int(target.GID), egid)
	assert.Equal(t, 0, unix.Geteuid())
	assert.False(t, s.Degraded())
}

func TestThreadSwitcherRestoresOnErrorAndPanic(t *testing.T) {
	requireRoot(t)
	nobody(t)

	s, err := newThreadSwitcher(2, Lookup)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithUserIdentity(context.Background(), "nobody", func() error { return boom })
	require.ErrorIs(t, err, boom)

	err = s.WithUserIdentity(context.Background(), "nobody", func() error { panic("kaput") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")

	// a fresh bracket still starts from the original identity
	var euid int
	require.NoError(t, s.WithUserIdentity(context.Background(), "root", func() error {
		euid = unix.Geteuid()
		return nil
	}))
	assert.Equal(t, 0, euid)
	assert.False(t, s.Degraded())
}

func TestThreadSwitcherDoesNotLeakToConcurrentWork(t *testing.T) {
	requireRoot(t)
	nobody(t)

	s, err := newThreadSwitcher(4, Lookup)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithUserIdentity(context.Background(), "nobody", func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	// the narrowed worker is parked; every other thread keeps root
	for range 100 {
		require.Equal(t, 0, unix.Geteuid())
	}
	close(release)
	wg.Wait()
}

func TestThreadSwitcherCancelledWhileWaitingForWorker(t *testing.T) {
	s, err := newThreadSwitcher(1, func(name string) (*Identity, error) {
		return &Identity{Username: name}, nil
	})
	require.NoError(t, err)
	require.True(t, s.workers.TryAcquire(1))
	defer s.workers.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.WithUserIdentity(ctx, "anyone", func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestThreadSwitcherReturnsWhenDeadlinePasses(t *testing.T) {
	requireRoot(t)
	nobody(t)

	s, err := newThreadSwitcher(1, Lookup)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	start := time.Now()
	err = s.WithUserIdentity(ctx, "nobody", func() error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// the abandoned worker holds its slot until it has restored
	assert.False(t, s.workers.TryAcquire(1))
	close(release)
	require.Eventually(t, func() bool {
		if !s.workers.TryAcquire(1) {
			return false
		}
		s.workers.Release(1)
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, s.Degraded())
	assert.Equal(t, 0, unix.Geteuid())
}
