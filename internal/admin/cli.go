package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/avandyk/submitstore/internal/config"
	"github.com/avandyk/submitstore/internal/logging"
	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/accounts"
	"github.com/avandyk/submitstore/internal/store/contest"
	"github.com/avandyk/submitstore/internal/store/lockfile"
	"github.com/avandyk/submitstore/internal/store/models"
)

// Exit codes reported by the command-line tool. Scripts driving it
// key off these, so they stay stable.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitLocked   = 5
)

const usageText = `usage: submitadm [global flags] <command> [args]

commands:
  adduser   <username> [password]   create an account (password generated if omitted)
  adduuid                           create an account with a random UUID username
  deluser   <username>              remove an account and its upload tree
  list                              list usernames
  show      <username>              print an account record
  resetpw   <username> [password]   set a new password, forcing a change at next login
  forcepw   <username> [seconds]    restart the password-change grace window
  disable   <username>              disable logins for an account
  enable    <username>              re-enable logins for an account
  grant     <username>              grant the admin flag
  revoke    <username>              revoke the admin flag
  slotset   <username> <slot> <status>  annotate a slot
  slotclear <username> <slot>       return a slot to the empty state
  setdates  <open> <close>          set the contest window (RFC 3339, "-" clears)
  getdates                          print the contest window
`

// App wires the stores together behind the admin command set.
type App struct {
	cfg *config.Config
	svc *Service
	out io.Writer
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	locks := lockfile.NewManager(cfg.LockTimeout, cfg.StaleLockAge, logger)
	acc := accounts.New(cfg, locks, logger)
	con := contest.New(cfg, locks, logger)
	return &App{
		cfg: cfg,
		svc: New(cfg, acc, con, logger),
		out: os.Stdout,
	}, nil
}

// Run dispatches one subcommand and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return ExitUsage
	}
	cmd, rest := args[0], args[1:]

	err := a.dispatch(ctx, cmd, rest)
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usageText)
		return ExitUsage
	}
	fmt.Fprintf(os.Stderr, "submitadm: %s: %v\n", cmd, err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, store.ErrConflict):
		return ExitConflict
	case errors.Is(err, store.ErrLockTimeout):
		return ExitLocked
	default:
		return ExitError
	}
}

var errUsage = errors.New("bad usage")

func (a *App) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "adduser":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		password := ""
		if len(args) == 2 {
			password = args[1]
		}
		rec, secret, err := a.svc.AddUser(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", rec.Username, secret)
		return nil

	case "adduuid":
		if len(args) != 0 {
			return errUsage
		}
		username, secret, err := a.svc.AddUUIDUser(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", username, secret)
		return nil

	case "deluser":
		if len(args) != 1 {
			return errUsage
		}
		return a.svc.DeleteUser(ctx, args[0])

	case "list":
		if len(args) != 0 {
			return errUsage
		}
		recs, err := a.svc.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Fprintln(a.out, rec.Username)
		}
		return nil

	case "show":
		if len(args) != 1 {
			return errUsage
		}
		rec, err := a.svc.GetUser(ctx, args[0])
		if err != nil {
			return err
		}
		printRecord(a.out, rec)
		return nil

	case "resetpw":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		password := ""
		if len(args) == 2 {
			password = args[1]
		}
		secret, err := a.svc.ResetPassword(ctx, args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %s\n", args[0], secret)
		return nil

	case "forcepw":
		if len(args) < 1 || len(args) > 2 {
			return errUsage
		}
		grace := time.Duration(0)
		if len(args) == 2 {
			secs, err := strconv.Atoi(args[1])
			if err != nil {
				return errUsage
			}
			grace = time.Duration(secs) * time.Second
		}
		return a.svc.ForcePasswordChange(ctx, args[0], grace)

	case "disable", "enable":
		if len(args) != 1 {
			return errUsage
		}
		return a.svc.SetLoginDisabled(ctx, args[0], cmd == "disable")

	case "grant", "revoke":
		if len(args) != 1 {
			return errUsage
		}
		return a.svc.SetAdmin(ctx, args[0], cmd == "grant")

	case "slotset":
		if len(args) != 3 {
			return errUsage
		}
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return errUsage
		}
		return a.svc.SetSlotStatus(ctx, args[0], slot, args[2])

	case "slotclear":
		if len(args) != 2 {
			return errUsage
		}
		slot, err := strconv.Atoi(args[1])
		if err != nil {
			return errUsage
		}
		return a.svc.ClearSlot(ctx, args[0], slot)

	case "setdates":
		if len(args) != 2 {
			return errUsage
		}
		open, err := parseDateArg(args[0])
		if err != nil {
			return err
		}
		close, err := parseDateArg(args[1])
		if err != nil {
			return err
		}
		return a.svc.SetDates(ctx, open, close)

	case "getdates":
		if len(args) != 0 {
			return errUsage
		}
		open, close, err := a.svc.GetDates(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "open: %s\nclose: %s\n", formatDateArg(open), formatDateArg(close))
		return nil

	default:
		return errUsage
	}
}

// parseDateArg accepts an RFC 3339 timestamp, or "-" for "unset".
func parseDateArg(s string) (*time.Time, error) {
	if s == "-" || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", s, err)
	}
	return &t, nil
}

func formatDateArg(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func printRecord(w io.Writer, rec *models.AccountRecord) {
	fmt.Fprintf(w, "username: %s\n", rec.Username)
	fmt.Fprintf(w, "admin: %t\n", rec.Admin)
	fmt.Fprintf(w, "login_disabled: %t\n", rec.LoginDisabled)
	fmt.Fprintf(w, "force_password_change: %t\n", rec.ForcePasswordChange)
	if rec.GraceDeadline != nil {
		fmt.Fprintf(w, "grace_deadline: %s\n", rec.GraceDeadline.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "created_at: %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "updated_at: %s\n", rec.UpdatedAt.Format(time.RFC3339))
	for _, slot := range rec.Slots {
		line := fmt.Sprintf("slot %d: %s", slot.SlotNum, slot.Status)
		if slot.Filename != "" {
			line += fmt.Sprintf(" %s %s %d", slot.Filename, slot.Checksum, slot.Length)
		}
		fmt.Fprintln(w, line)
	}
}
