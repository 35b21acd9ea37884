// Package contest owns the singleton open/close window record, with the
// same lock-wrapped read-modify-write discipline as the account store but
// against its own file, so the two stores never block each other.
package contest

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/filex"
	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/codec"
	"github.com/avandyk/submitstore/internal/store/lockfile"
	"github.com/avandyk/submitstore/internal/store/models"
)

//go:embed template.json
var stateTemplate []byte

type Store struct {
	path     string
	lockPath string
	locks    *lockfile.Manager
	logger   logging.Logger
}

func New(cfg *config.Config, locks *lockfile.Manager, logger logging.Logger) *Store {
	return &Store{
		path:     cfg.ContestStatePath,
		lockPath: cfg.ContestStateLockPath(),
		locks:    locks,
		logger:   logger.With("store", "contest"),
	}
}

func (s *Store) load(ctx context.Context, seed bool) (*models.ContestState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		if !seed {
			return codec.DecodeState(stateTemplate)
		}
		return s.bootstrap(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	state, err := codec.DecodeState(data)
	if err != nil {
		s.logger.Error(ctx, "contest state file failed schema validation; refusing to proceed",
			"path", s.path, "error", err)
		return nil, err
	}
	return state, nil
}

func (s *Store) bootstrap(ctx context.Context) (*models.ContestState, error) {
	state, err := codec.DecodeState(stateTemplate)
	if err != nil {
		return nil, err
	}
	if err := filex.EnsureDir(filepath.Dir(s.path)); err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(s.path, stateTemplate, 0o660); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "seeded contest state file from template", "path", s.path)
	return state, nil
}

// GetDates returns the submission window. A nil date means "not yet
// scheduled": no open date means the contest has not started, no close
// date means it never closes. Reads run without the lock.
func (s *Store) GetDates(ctx context.Context) (open, close *time.Time, err error) {
	state, err := s.load(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	return state.OpenDate, state.CloseDate, nil
}

// IsOpen reports whether uploads are currently accepted, and the close
// date (if scheduled) while they are.
func (s *Store) IsOpen(ctx context.Context, now time.Time) (bool, *time.Time, error) {
	state, err := s.load(ctx, false)
	if err != nil {
		return false, nil, err
	}
	ok, until := state.IsOpen(now)
	return ok, until, nil
}

// SetDates replaces the submission window under the lock. A window whose
// close date precedes its open date is rejected with ErrValidation and
// the stored dates are left unchanged. A nil date clears the
// corresponding bound.
func (s *Store) SetDates(ctx context.Context, open, close *time.Time) error {
	if open != nil && close != nil && close.Before(*open) {
		return fmt.Errorf("%w: close date %s precedes open date %s",
			store.ErrValidation, close.Format(time.RFC3339), open.Format(time.RFC3339))
	}

	// On a fresh deployment the state directory does not exist yet, and
	// flock cannot create the lock file without it.
	if err := filex.EnsureDir(filepath.Dir(s.lockPath)); err != nil {
		return err
	}

	h, err := s.locks.Acquire(ctx, s.lockPath)
	if err != nil {
		return err
	}
	defer h.Release()

	state, err := s.load(ctx, true)
	if err != nil {
		return err
	}
	state.OpenDate = normalize(open)
	state.CloseDate = normalize(close)

	data, err := codec.EncodeState(state)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(s.path, data, 0o660); err != nil {
		return err
	}

	s.logger.Info(ctx, "contest window updated",
		"open", formatDate(state.OpenDate), "close", formatDate(state.CloseDate))
	return nil
}

// normalize strips the monotonic reading so stored dates survive an
// encode/decode cycle intact. The timezone offset is preserved.
func normalize(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.Round(0)
	return &v
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "unset"
	}
	return t.Format(time.RFC3339)
}
