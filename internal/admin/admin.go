// Package admin bundles the maintenance operations an operator performs on
// the submission store: creating and removing accounts, resetting passwords,
// toggling login and admin flags, and scheduling the contest window. It is a
// thin layer over the stores so command-line tools stay free of store logic.
package admin

import (
	"context"
	"time"

	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/credentials"
	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store/accounts"
	"github.com/avandyk/submitstore/internal/store/contest"
	"github.com/avandyk/submitstore/internal/store/models"
)

type Service struct {
	cfg      *config.Config
	accounts *accounts.Store
	contest  *contest.Store
	logger   logging.Logger
}

func New(cfg *config.Config, acc *accounts.Store, con *contest.Store, logger logging.Logger) *Service {
	return &Service{
		cfg:      cfg,
		accounts: acc,
		contest:  con,
		logger:   logger.With("component", "admin"),
	}
}

// words loads the configured word list, falling back to the embedded one.
func (s *Service) words() ([]string, error) {
	if s.cfg.WordListPath == "" {
		return credentials.DefaultWords(), nil
	}
	return credentials.LoadWordList(s.cfg.WordListPath)
}

func (s *Service) generatePassword() (string, error) {
	words, err := s.words()
	if err != nil {
		return "", err
	}
	return credentials.GeneratePassword(words)
}

// AddUser creates an account. An empty password means "generate one"; the
// password in use is returned either way so the operator can hand it out.
func (s *Service) AddUser(ctx context.Context, username, password string) (*models.AccountRecord, string, error) {
	if password == "" {
		var err error
		if password, err = s.generatePassword(); err != nil {
			return nil, "", err
		}
	}
	rec, err := s.accounts.Add(ctx, username, password)
	if err != nil {
		return nil, "", err
	}
	return rec, password, nil
}

// AddUUIDUser creates an account with a random UUID username and a generated
// password, and returns both.
func (s *Service) AddUUIDUser(ctx context.Context) (username, password string, err error) {
	rec, password, err := s.AddUser(ctx, "", "")
	if err != nil {
		return "", "", err
	}
	return rec.Username, password, nil
}

func (s *Service) DeleteUser(ctx context.Context, username string) error {
	return s.accounts.Delete(ctx, username)
}

func (s *Service) ListUsers(ctx context.Context) ([]models.AccountRecord, error) {
	return s.accounts.List(ctx)
}

func (s *Service) GetUser(ctx context.Context, username string) (*models.AccountRecord, error) {
	return s.accounts.Get(ctx, username)
}

// ResetPassword sets a new password on the account and marks it as requiring
// a change at next login. An empty password means "generate one".
func (s *Service) ResetPassword(ctx context.Context, username, password string) (string, error) {
	if password == "" {
		var err error
		if password, err = s.generatePassword(); err != nil {
			return "", err
		}
	}
	if err := s.accounts.SetPassword(ctx, username, password); err != nil {
		return "", err
	}
	return password, nil
}

// ForcePasswordChange restarts the password-change grace window without
// touching the password itself. A zero grace uses the configured default.
func (s *Service) ForcePasswordChange(ctx context.Context, username string, grace time.Duration) error {
	return s.accounts.ForcePasswordChange(ctx, username, grace)
}

func (s *Service) SetLoginDisabled(ctx context.Context, username string, disabled bool) error {
	_, err := s.accounts.Update(ctx, username, func(rec *models.AccountRecord) error {
		rec.LoginDisabled = disabled
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "login flag changed", "username", username, "disabled", disabled)
	return nil
}

func (s *Service) SetAdmin(ctx context.Context, username string, admin bool) error {
	_, err := s.accounts.Update(ctx, username, func(rec *models.AccountRecord) error {
		rec.Admin = admin
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "admin flag changed", "username", username, "admin", admin)
	return nil
}

func (s *Service) SetSlotStatus(ctx context.Context, username string, slotNum int, status string) error {
	return s.accounts.SetSlotStatus(ctx, username, slotNum, status)
}

func (s *Service) ClearSlot(ctx context.Context, username string, slotNum int) error {
	return s.accounts.ClearSlot(ctx, username, slotNum)
}

func (s *Service) SetDates(ctx context.Context, open, close *time.Time) error {
	return s.contest.SetDates(ctx, open, close)
}

func (s *Service) GetDates(ctx context.Context) (open, close *time.Time, err error) {
	return s.contest.GetDates(ctx)
}
