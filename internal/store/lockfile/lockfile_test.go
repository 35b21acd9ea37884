package lockfile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
)

func newTestManager(t *testing.T, timeout, staleAge time.Duration) (*Manager, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	return NewManager(timeout, staleAge, logger), &buf
}

func TestAcquireRelease(t *testing.T) {
	m, _ := newTestManager(t, time.Second, 10*time.Minute)
	path := filepath.Join(t.TempDir(), "accounts.json.lock")

	h, err := m.Acquire(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	// the lock file records pid and timestamp for operators
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(string(body)))
}

func TestRelease_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, time.Second, 10*time.Minute)
	path := filepath.Join(t.TempDir(), "state.json.lock")

	h, err := m.Acquire(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func TestAcquire_MissingDirectoryIsNotReportedBusy(t *testing.T) {
	m, _ := newTestManager(t, time.Second, 10*time.Minute)
	path := filepath.Join(t.TempDir(), "missing", "accounts.json.lock")

	_, err := m.Acquire(context.Background(), path)
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrLockTimeout), "a permanent failure must not look retryable: %v", err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "the underlying cause must survive: %v", err)
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")

	holder, _ := newTestManager(t, time.Second, time.Hour)
	h, err := holder.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer h.Release()

	waiter, _ := newTestManager(t, 150*time.Millisecond, time.Hour)
	start := time.Now()
	_, err = waiter.Acquire(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrLockTimeout), "want ErrLockTimeout, got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestAcquire_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")

	holder, _ := newTestManager(t, time.Second, time.Hour)
	h, err := holder.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	waiter, _ := newTestManager(t, 5*time.Second, time.Hour)
	_, err = waiter.Acquire(ctx, path)
	assert.True(t, errors.Is(err, context.Canceled), "want context.Canceled, got %v", err)
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")
	m, _ := newTestManager(t, 5*time.Second, time.Hour)

	h, err := m.Acquire(context.Background(), path)
	require.NoError(t, err)

	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		released <- time.Now()
		h.Release()
	}()

	h2, err := m.Acquire(context.Background(), path)
	acquiredAt := time.Now()
	require.NoError(t, err)
	defer h2.Release()

	releasedAt := <-released
	assert.True(t, acquiredAt.After(releasedAt) || acquiredAt.Equal(releasedAt),
		"second caller entered before the first released")
}

// Critical sections guarded by the lock must never overlap, even under
// heavy contention.
func TestAcquire_NoOverlappingCriticalSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")
	m, _ := newTestManager(t, 10*time.Second, time.Hour)

	var inside atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				h, err := m.Acquire(context.Background(), path)
				if err != nil {
					t.Error(err)
					return
				}
				if !inside.CompareAndSwap(0, 1) {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				inside.Store(0)
				h.Release()
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load(), "overlapping critical sections detected")
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")

	holder, _ := newTestManager(t, time.Second, time.Hour)
	h, err := holder.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer h.Release()

	// age the lock file past the staleness threshold
	old := time.Now().Add(-20 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	waiter, buf := newTestManager(t, 100*time.Millisecond, 10*time.Minute)
	h2, err := waiter.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer h2.Release()

	assert.Contains(t, buf.String(), "reclaiming stale lock")
}

func TestAcquire_FreshLockIsNotReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json.lock")

	holder, _ := newTestManager(t, time.Second, time.Hour)
	h, err := holder.Acquire(context.Background(), path)
	require.NoError(t, err)
	defer h.Release()

	waiter, buf := newTestManager(t, 100*time.Millisecond, 10*time.Minute)
	_, err = waiter.Acquire(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrLockTimeout))
	assert.NotContains(t, buf.String(), "reclaiming stale lock")
}
