// Package accounts owns the roster: load, atomic read-modify-write, and
// save of account records in the shared accounts file.
//
// Multiple server processes mutate the same file, so every mutation runs
// as lock → load → mutate → validate → atomic replace → release. The lock
// is never held across anything but that cycle. Reads outside the lock are
// tolerated; atomic replace guarantees they see valid (possibly slightly
// stale) data.
package accounts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/credentials"
	"github.com/avandyk/submitstore/internal/filex"
	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/codec"
	"github.com/avandyk/submitstore/internal/store/lockfile"
	"github.com/avandyk/submitstore/internal/store/models"
	"github.com/avandyk/submitstore/internal/store/slots"
)

//go:embed template.json
var rosterTemplate []byte

// Usernames are case-sensitive and must be safe to use as a directory
// name. Generated UUID usernames always match.
var usernameRe = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]{2,63}$`)

type Store struct {
	path     string
	lockPath string
	usersDir string
	locks    *lockfile.Manager
	logger   logging.Logger
	grace    time.Duration
	now      func() time.Time // test seam
}

func New(cfg *config.Config, locks *lockfile.Manager, logger logging.Logger) *Store {
	return &Store{
		path:     cfg.AccountsPath,
		lockPath: cfg.AccountsLockPath(),
		usersDir: cfg.UsersDir(),
		locks:    locks,
		logger:   logger.With("store", "accounts"),
		grace:    cfg.DefaultGracePeriod,
		now:      time.Now,
	}
}

// timeNow returns the store clock in UTC with the monotonic reading
// stripped, so stored timestamps survive an encode/decode cycle intact.
func (s *Store) timeNow() time.Time {
	return s.now().UTC().Round(0)
}

// withLock runs fn inside the locked load-mutate-validate-save cycle. The
// roster is re-read from disk after the lock is held, never trusted from
// memory, so updates made by other processes are not clobbered. When fn
// returns nil the roster is validated and atomically written back.
func (s *Store) withLock(ctx context.Context, fn func(r *models.Roster) error) error {
	// The lock file lives next to the store file; on a fresh deployment
	// neither exists yet, and flock cannot create the lock file without
	// its directory.
	if err := filex.EnsureDir(filepath.Dir(s.lockPath)); err != nil {
		return err
	}

	h, err := s.locks.Acquire(ctx, s.lockPath)
	if err != nil {
		return err
	}
	defer h.Release()

	roster, err := s.load(ctx, true)
	if err != nil {
		return err
	}
	if err := fn(roster); err != nil {
		return err
	}

	data, err := codec.EncodeRoster(roster)
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(s.path, data, 0o660)
}

// load reads and decodes the accounts file. When seed is true (the caller
// holds the lock) a missing file is bootstrapped from the embedded
// template. A schema failure is a serious incident, not routine input
// validation, and is logged accordingly.
func (s *Store) load(ctx context.Context, seed bool) (*models.Roster, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if !seed {
			return codec.DecodeRoster(rosterTemplate)
		}
		return s.bootstrap(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	roster, err := codec.DecodeRoster(data)
	if err != nil {
		s.logger.Error(ctx, "accounts file failed schema validation; refusing to proceed",
			"path", s.path, "error", err)
		return nil, err
	}
	s.logger.Debug(ctx, "roster loaded", "path", s.path, "accounts", len(roster.Accounts))
	return roster, nil
}

func (s *Store) bootstrap(ctx context.Context) (*models.Roster, error) {
	roster, err := codec.DecodeRoster(rosterTemplate)
	if err != nil {
		return nil, err
	}
	if err := filex.EnsureDir(filepath.Dir(s.path)); err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(s.path, rosterTemplate, 0o660); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "seeded accounts file from template", "path", s.path)
	return roster, nil
}

// Get returns a copy of the named account. It reads without the lock.
func (s *Store) Get(ctx context.Context, username string) (*models.AccountRecord, error) {
	roster, err := s.load(ctx, false)
	if err != nil {
		return nil, err
	}
	rec := roster.Find(username)
	if rec == nil {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, username)
	}
	return rec.Clone(), nil
}

// List returns every account, ordered as stored (by username).
func (s *Store) List(ctx context.Context) ([]models.AccountRecord, error) {
	roster, err := s.load(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]models.AccountRecord, 0, len(roster.Accounts))
	for i := range roster.Accounts {
		out = append(out, *roster.Accounts[i].Clone())
	}
	return out, nil
}

// Add creates an account. An empty username means "generate one": a
// random UUID string, for anonymous contestants. The password is stored
// salted and hashed; the account starts with all ten slots empty,
// force_password_change set, and a grace deadline in the future.
func (s *Store) Add(ctx context.Context, username, password string) (*models.AccountRecord, error) {
	if username == "" {
		username = uuid.NewString()
	}
	if !usernameRe.MatchString(username) {
		return nil, fmt.Errorf("%w: malformed username %q", store.ErrValidation, username)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", store.ErrValidation)
	}

	salt, err := credentials.NewSalt()
	if err != nil {
		return nil, err
	}

	var created *models.AccountRecord
	err = s.withLock(ctx, func(r *models.Roster) error {
		if r.Find(username) != nil {
			return fmt.Errorf("%w: %q", store.ErrConflict, username)
		}
		now := s.timeNow()
		deadline := now.Add(s.grace)
		rec := models.AccountRecord{
			Username:            username,
			PasswordHash:        credentials.HashPassword([]byte(password), salt),
			Salt:                salt,
			ForcePasswordChange: true,
			GraceDeadline:       &deadline,
			Slots:               models.EmptySlots(now),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		r.Accounts = append(r.Accounts, rec)
		created = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The upload tree is created outside the lock; it is per-user and not
	// shared with any other account's operations.
	if err := s.initUserTree(username); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "account added", "username", username)
	return created, nil
}

// Update applies mutate to the named account under the lock and persists
// the result. The record passed to mutate is the stored one; the returned
// copy reflects the saved state. Username, CreatedAt, and UpdatedAt are
// owned by the store and survive any change mutate makes to them.
func (s *Store) Update(ctx context.Context, username string, mutate func(rec *models.AccountRecord) error) (*models.AccountRecord, error) {
	var updated *models.AccountRecord
	err := s.withLock(ctx, func(r *models.Roster) error {
		rec := r.Find(username)
		if rec == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, username)
		}
		created := rec.CreatedAt
		if err := mutate(rec); err != nil {
			return err
		}
		rec.Username = username
		rec.CreatedAt = created
		rec.UpdatedAt = s.timeNow()
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the account and its uploaded artifacts.
func (s *Store) Delete(ctx context.Context, username string) error {
	err := s.withLock(ctx, func(r *models.Roster) error {
		for i := range r.Accounts {
			if r.Accounts[i].Username == username {
				r.Accounts = append(r.Accounts[:i], r.Accounts[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %q", store.ErrNotFound, username)
	})
	if err != nil {
		return err
	}

	if err := os.RemoveAll(filepath.Join(s.usersDir, username)); err != nil {
		return fmt.Errorf("remove artifacts for %q: %w", username, err)
	}
	s.logger.Info(ctx, "account deleted", "username", username)
	return nil
}

// VerifyCredentials authenticates a login attempt. It returns nil on
// success, or one of ErrLoginDisabled, ErrInvalidCredentials, and
// ErrGraceExpired. An unknown username reports ErrInvalidCredentials, the
// same as a wrong password. A successful login touches the account's
// UpdatedAt, so the attempt runs under the lock like any other mutation.
func (s *Store) VerifyCredentials(ctx context.Context, username, password string) error {
	return s.withLock(ctx, func(r *models.Roster) error {
		rec := r.Find(username)
		if rec == nil {
			return store.ErrInvalidCredentials
		}
		if rec.LoginDisabled {
			return store.ErrLoginDisabled
		}
		if !credentials.Verify([]byte(password), rec.Salt, rec.PasswordHash) {
			return store.ErrInvalidCredentials
		}
		if rec.ForcePasswordChange {
			if err := credentials.CheckGrace(s.timeNow(), rec.GraceDeadline); err != nil {
				return err
			}
		}
		rec.UpdatedAt = s.timeNow()
		return nil
	})
}

// UpdatePassword changes an account's password after verifying the old
// one, and clears the forced-change state. The new password must satisfy
// the credential policy and must not share text with the old one.
func (s *Store) UpdatePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if err := credentials.ValidatePassword(newPassword); err != nil {
		return err
	}
	if newPassword == oldPassword ||
		strings.Contains(oldPassword, newPassword) ||
		strings.Contains(newPassword, oldPassword) {
		return fmt.Errorf("%w: new password must not contain the old one", store.ErrValidation)
	}

	salt, err := credentials.NewSalt()
	if err != nil {
		return err
	}

	return s.withLock(ctx, func(r *models.Roster) error {
		rec := r.Find(username)
		if rec == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, username)
		}
		if !credentials.Verify([]byte(oldPassword), rec.Salt, rec.PasswordHash) {
			return store.ErrInvalidCredentials
		}
		rec.Salt = salt
		rec.PasswordHash = credentials.HashPassword([]byte(newPassword), salt)
		rec.ForcePasswordChange = false
		rec.GraceDeadline = nil
		rec.UpdatedAt = s.timeNow()
		return nil
	})
}

// SetPassword resets an account's password (administrative path). The
// account must change it within the grace period.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", store.ErrValidation)
	}
	salt, err := credentials.NewSalt()
	if err != nil {
		return err
	}

	_, err = s.Update(ctx, username, func(rec *models.AccountRecord) error {
		now := s.timeNow()
		deadline := now.Add(s.grace)
		rec.Salt = salt
		rec.PasswordHash = credentials.HashPassword([]byte(password), salt)
		rec.ForcePasswordChange = true
		rec.GraceDeadline = &deadline
		return nil
	})
	return err
}

// ForcePasswordChange flags the account for a forced password change with
// the given grace window (zero means the store default).
func (s *Store) ForcePasswordChange(ctx context.Context, username string, grace time.Duration) error {
	if grace < 0 {
		return fmt.Errorf("%w: negative grace period", store.ErrValidation)
	}
	if grace == 0 {
		grace = s.grace
	}
	_, err := s.Update(ctx, username, func(rec *models.AccountRecord) error {
		deadline := s.timeNow().Add(grace)
		rec.ForcePasswordChange = true
		rec.GraceDeadline = &deadline
		return nil
	})
	return err
}

// SetSlotStatus stores an administrator's status text on one slot.
func (s *Store) SetSlotStatus(ctx context.Context, username string, slotNum int, status string) error {
	_, err := s.Update(ctx, username, func(rec *models.AccountRecord) error {
		return slots.SetStatus(rec, slotNum, status, s.timeNow())
	})
	return err
}

// ClearSlot returns a slot to the empty state, dropping any recorded
// upload.
func (s *Store) ClearSlot(ctx context.Context, username string, slotNum int) error {
	_, err := s.Update(ctx, username, func(rec *models.AccountRecord) error {
		return slots.Clear(rec, slotNum, s.timeNow())
	})
	return err
}

// RecordUpload marks a slot as holding an accepted upload.
func (s *Store) RecordUpload(ctx context.Context, username string, slotNum int, filename, checksum string, length int64) error {
	_, err := s.Update(ctx, username, func(rec *models.AccountRecord) error {
		return slots.RecordUpload(rec, slotNum, filename, checksum, length, s.timeNow())
	})
	return err
}

// SlotDir returns the directory accepted uploads for the slot are stored
// in, creating it if needed.
func (s *Store) SlotDir(username string, slotNum int) (string, error) {
	if slotNum < 0 || slotNum >= models.NumSlots {
		return "", fmt.Errorf("%w: %d", store.ErrInvalidSlot, slotNum)
	}
	dir := filepath.Join(s.usersDir, username, strconv.Itoa(slotNum))
	if err := filex.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) initUserTree(username string) error {
	for i := 0; i < models.NumSlots; i++ {
		if _, err := s.SlotDir(username, i); err != nil {
			return err
		}
	}
	return nil
}
