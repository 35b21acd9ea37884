// Package lockfile implements the advisory, cross-process lock protecting
// each store file. Every store file is paired with a sibling lock file, so
// the account store and the contest-state store never block each other.
//
// Locking uses flock(2) via gofrs/flock. On local filesystems the kernel
// drops the lock when the holder dies, so a stale lock normally cannot
// occur; the staleness check below covers wedged holders and network
// mounts, where a lock can outlive any legal critical section.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
)

// retryDelay is the poll interval while waiting for a contended lock.
const retryDelay = 25 * time.Millisecond

// Manager acquires and releases the per-file locks. It is safe for use
// from multiple goroutines; the locks themselves serialize across
// processes.
type Manager struct {
	timeout  time.Duration
	staleAge time.Duration
	logger   logging.Logger
	now      func() time.Time // test seam
}

func NewManager(timeout, staleAge time.Duration, logger logging.Logger) *Manager {
	return &Manager{
		timeout:  timeout,
		staleAge: staleAge,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle represents a held lock. Release is idempotent and must run on
// every exit path of the protected mutation, including panics; callers
// defer it immediately after a successful Acquire.
type Handle struct {
	fl   *flock.Flock
	once sync.Once
	err  error
}

// Path returns the lock file path, for logging.
func (h *Handle) Path() string {
	return h.fl.Path()
}

// Release drops the lock. Calling it more than once is a no-op.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.err = h.fl.Unlock()
	})
	return h.err
}

// Acquire blocks until the exclusive lock on path is held, the configured
// timeout elapses, or ctx is cancelled. On timeout it returns
// store.ErrLockTimeout, a retryable "store busy" condition; the caller
// must not touch the protected file without the handle.
func (m *Manager) Acquire(ctx context.Context, path string) (*Handle, error) {
	h, err := m.tryAcquire(ctx, path, m.timeout)
	if err == nil {
		return h, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Anything but a wait-timeout (missing directory, permissions,
	// read-only filesystem) is a permanent failure, not "store busy".
	if !errors.Is(err, store.ErrLockTimeout) {
		return nil, err
	}

	// The wait timed out. If the lock file has not been touched for far
	// longer than any legal critical section, treat the holder as
	// abandoned, reclaim the lock file, and retry once.
	if m.reclaimIfStale(ctx, path) {
		return m.tryAcquire(ctx, path, m.timeout)
	}
	return nil, err
}

func (m *Manager) tryAcquire(ctx context.Context, path string, timeout time.Duration) (*Handle, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	ok, err := fl.TryLockContext(waitCtx, retryDelay)
	if err != nil && waitCtx.Err() == nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrLockTimeout, path)
	}

	m.stamp(ctx, path)
	return &Handle{fl: fl}, nil
}

// stamp records the holder's pid and acquisition time in the lock file.
// The contents are informational (for operators and the staleness check);
// mutual exclusion comes from flock alone.
func (m *Manager) stamp(ctx context.Context, path string) {
	body := strconv.Itoa(os.Getpid()) + " " + m.now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o660); err != nil {
		m.logger.Warn(ctx, "cannot stamp lock file", "path", path, "error", err)
	}
}

func (m *Manager) reclaimIfStale(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	age := m.now().Sub(info.ModTime())
	if age < m.staleAge {
		return false
	}

	m.logger.Warn(ctx, "reclaiming stale lock",
		"path", path, "age", age.String(), "threshold", m.staleAge.String())
	if err := os.Remove(path); err != nil {
		m.logger.Warn(ctx, "cannot remove stale lock", "path", path, "error", err)
		return false
	}
	return true
}
