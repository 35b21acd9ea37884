package accounts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/lockfile"
	"github.com/avandyk/submitstore/internal/store/models"
)

const testPassword = "walrus-anchor-topaz-42"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StoreDir = t.TempDir()
	cfg.AccountsPath = filepath.Join(cfg.StoreDir, "etc", "accounts.json")
	cfg.ContestStatePath = filepath.Join(cfg.StoreDir, "etc", "state.json")
	cfg.LockTimeout = 5 * time.Second

	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.AccountsPath), 0o770))

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	locks := lockfile.NewManager(cfg.LockTimeout, cfg.StaleLockAge, logger)
	return New(cfg, locks, logger)
}

func TestAdd_FreshDeploymentSeedsStore(t *testing.T) {
	// Nothing exists yet, not even the etc directory holding the store
	// and lock files. The first mutation must create the tree and seed
	// the accounts file from the template instead of failing.
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StoreDir = filepath.Join(t.TempDir(), "var", "submitstore")
	cfg.AccountsPath = filepath.Join(cfg.StoreDir, "etc", "accounts.json")
	cfg.ContestStatePath = filepath.Join(cfg.StoreDir, "etc", "state.json")
	cfg.LockTimeout = 5 * time.Second

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	locks := lockfile.NewManager(cfg.LockTimeout, cfg.StaleLockAge, logger)
	s := New(cfg, locks, logger)

	rec, err := s.Add(context.Background(), "alice", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	info, err := os.Stat(cfg.AccountsPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestAdd_NewAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Username)
	assert.True(t, rec.ForcePasswordChange)
	require.NotNil(t, rec.GraceDeadline)
	assert.True(t, rec.GraceDeadline.After(time.Now()))
	require.Len(t, rec.Slots, models.NumSlots)
	for i, slot := range rec.Slots {
		assert.Equal(t, i, slot.SlotNum)
		assert.Equal(t, models.SlotStatusEmpty, slot.Status)
	}
	assert.NotEmpty(t, rec.PasswordHash)
	assert.NotEmpty(t, rec.Salt)

	// upload tree initialized for every slot
	for i := 0; i < models.NumSlots; i++ {
		dir := filepath.Join(s.usersDir, "alice", strconv.Itoa(i))
		info, err := os.Stat(dir)
		require.NoError(t, err, "slot dir %d", i)
		assert.True(t, info.IsDir())
	}

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestAdd_GeneratedUsernameIsUUID(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Add(context.Background(), "", testPassword)
	require.NoError(t, err)

	_, err = uuid.Parse(rec.Username)
	assert.NoError(t, err, "generated username %q is not a UUID", rec.Username)
}

func TestAdd_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	_, err = s.Add(ctx, "alice", "different-pass-99")
	assert.True(t, errors.Is(err, store.ErrConflict), "want ErrConflict, got %v", err)
}

func TestAdd_MalformedUsername(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"ab", "has space", "../escape", "trailing/"} {
		_, err := s.Add(context.Background(), name, testPassword)
		assert.True(t, errors.Is(err, store.ErrValidation), "username %q: got %v", name, err)
	}
}

func TestAdd_ConcurrentSameUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Add(ctx, "popular", testPassword)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdate_ConcurrentDisjointFieldsBothSurvive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	go func() {
		defer wg.Done()
		_, err1 = s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
			rec.Admin = true
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		_, err2 = s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
			rec.LoginDisabled = true
			return nil
		})
	}()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rec.Admin, "admin change lost")
	assert.True(t, rec.LoginDisabled, "login_disabled change lost")
}

func TestUpdate_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(context.Background(), "ghost", func(rec *models.AccountRecord) error {
		return nil
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUpdate_InvariantViolationNotPersisted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	_, err = s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
		rec.Slots = rec.Slots[:5]
		return nil
	})
	assert.True(t, errors.Is(err, store.ErrValidation), "want ErrValidation, got %v", err)

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rec.Slots, models.NumSlots)
}

func TestUpdate_StoreOwnsIdentityFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	added, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	rec, err := s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
		rec.Username = "mallory"
		rec.CreatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, added.CreatedAt, rec.CreatedAt)
	assert.True(t, rec.UpdatedAt.After(added.UpdatedAt) || rec.UpdatedAt.Equal(added.UpdatedAt))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	userDir := filepath.Join(s.usersDir, "alice")
	_, err = os.Stat(userDir)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "alice"))

	_, err = s.Get(ctx, "alice")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = os.Stat(userDir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "artifacts not removed")

	assert.True(t, errors.Is(s.Delete(ctx, "alice"), store.ErrNotFound))
}

func TestVerifyCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		assert.NoError(t, s.VerifyCredentials(ctx, "alice", testPassword))
	})

	t.Run("wrong password", func(t *testing.T) {
		err := s.VerifyCredentials(ctx, "alice", "wrong-wrong-wrong")
		assert.True(t, errors.Is(err, store.ErrInvalidCredentials))
	})

	t.Run("unknown user looks like wrong password", func(t *testing.T) {
		err := s.VerifyCredentials(ctx, "nobody", testPassword)
		assert.True(t, errors.Is(err, store.ErrInvalidCredentials))
	})

	t.Run("disabled login", func(t *testing.T) {
		_, err := s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
			rec.LoginDisabled = true
			return nil
		})
		require.NoError(t, err)

		err = s.VerifyCredentials(ctx, "alice", testPassword)
		assert.True(t, errors.Is(err, store.ErrLoginDisabled))

		_, err = s.Update(ctx, "alice", func(rec *models.AccountRecord) error {
			rec.LoginDisabled = false
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("grace expired", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(100 * time.Hour) }
		defer func() { s.now = time.Now }()

		err := s.VerifyCredentials(ctx, "alice", testPassword)
		assert.True(t, errors.Is(err, store.ErrGraceExpired), "want ErrGraceExpired, got %v", err)
	})
}

func TestUpdatePassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	t.Run("wrong old password", func(t *testing.T) {
		err := s.UpdatePassword(ctx, "alice", "not-the-password", "bramble-lagoon-fiddle-07")
		assert.True(t, errors.Is(err, store.ErrInvalidCredentials))
	})

	t.Run("weak new password", func(t *testing.T) {
		err := s.UpdatePassword(ctx, "alice", testPassword, "short")
		assert.True(t, errors.Is(err, store.ErrValidation))
	})

	t.Run("new password contains old", func(t *testing.T) {
		err := s.UpdatePassword(ctx, "alice", testPassword, testPassword+"-xx")
		assert.True(t, errors.Is(err, store.ErrValidation))
	})

	t.Run("success clears forced change", func(t *testing.T) {
		const newPassword = "bramble-lagoon-fiddle-07"
		require.NoError(t, s.UpdatePassword(ctx, "alice", testPassword, newPassword))

		rec, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, rec.ForcePasswordChange)
		assert.Nil(t, rec.GraceDeadline)

		assert.NoError(t, s.VerifyCredentials(ctx, "alice", newPassword))
		assert.True(t, errors.Is(
			s.VerifyCredentials(ctx, "alice", testPassword), store.ErrInvalidCredentials))
	})
}

func TestSetPassword_ForcesChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePassword(ctx, "alice", testPassword, "bramble-lagoon-fiddle-07"))

	require.NoError(t, s.SetPassword(ctx, "alice", "reset-by-admin-pw-1"))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rec.ForcePasswordChange)
	require.NotNil(t, rec.GraceDeadline)
	assert.True(t, rec.GraceDeadline.After(time.Now()))
	assert.NoError(t, s.VerifyCredentials(ctx, "alice", "reset-by-admin-pw-1"))
}

func TestForcePasswordChange_GraceWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePassword(ctx, "alice", testPassword, "bramble-lagoon-fiddle-07"))

	before := time.Now()
	require.NoError(t, s.ForcePasswordChange(ctx, "alice", time.Hour))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rec.ForcePasswordChange)
	require.NotNil(t, rec.GraceDeadline)
	assert.WithinDuration(t, before.Add(time.Hour), *rec.GraceDeadline, time.Minute)

	assert.True(t, errors.Is(
		s.ForcePasswordChange(ctx, "alice", -time.Hour), store.ErrValidation))
}

func TestSetSlotStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	require.NoError(t, s.SetSlotStatus(ctx, "alice", 2, "judged: held over"))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "judged: held over", rec.Slots[2].Status)
}

func TestSetSlotStatus_InvalidSlotLeavesRecordUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)
	before, err := s.Get(ctx, "alice")
	require.NoError(t, err)

	err = s.SetSlotStatus(ctx, "alice", models.NumSlots, "nope")
	assert.True(t, errors.Is(err, store.ErrInvalidSlot), "want ErrInvalidSlot, got %v", err)

	after, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRecordUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	err = s.RecordUpload(ctx, "alice", 7, "submit.alice-7.1767225600.txz", "feed", 1234)
	require.NoError(t, err)

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	slot := rec.Slots[7]
	assert.Equal(t, "submitted", slot.Status)
	assert.Equal(t, "submit.alice-7.1767225600.txz", slot.Filename)
	assert.Equal(t, "feed", slot.Checksum)
	assert.Equal(t, int64(1234), slot.Length)
}

func TestClearSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.NoError(t, s.RecordUpload(ctx, "alice", 2, "entry.txz", "cafe", 77))

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.ClearSlot(ctx, "alice", 2))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	slot := rec.Slots[2]
	assert.Equal(t, models.SlotStatusEmpty, slot.Status)
	assert.Empty(t, slot.Filename)
	assert.Empty(t, slot.Checksum)
	assert.Zero(t, slot.Length)
	// the slot is stamped with the store clock, not the wall clock
	assert.True(t, slot.LastUpdate.Equal(fixed))

	err = s.ClearSlot(ctx, "alice", models.NumSlots)
	assert.True(t, errors.Is(err, store.ErrInvalidSlot))
}

func TestLoadEmitsDebugTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	var buf bytes.Buffer
	s.logger = logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	_, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "roster loaded")
	assert.Contains(t, buf.String(), "accounts=1")
}

func TestCorruptFileReportsSchemaError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "alice", testPassword)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.path, []byte("{broken"), 0o660))

	_, err = s.Get(ctx, "alice")
	assert.True(t, errors.Is(err, store.ErrSchema), "want ErrSchema, got %v", err)

	_, err = s.Update(ctx, "alice", func(rec *models.AccountRecord) error { return nil })
	assert.True(t, errors.Is(err, store.ErrSchema), "mutations must halt on schema failure")
}

func TestGet_MissingFileMeansEmptyRoster(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "anyone")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// an unlocked read never creates the store file
	_, err = os.Stat(s.path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
