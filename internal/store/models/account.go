// Package models defines the on-disk record types for the account roster
// and the contest state, together with their schema invariants.
package models

import (
	"fmt"
	"time"
)

// NumSlots is the fixed number of submission slots per account. The slot
// array is never resized.
const NumSlots = 10

// SlotStatusEmpty is the status a slot carries until a file is accepted
// into it. All other status strings are free text and are stored verbatim.
const SlotStatusEmpty = "empty"

// RosterFormatVersion identifies the accounts file schema.
const RosterFormatVersion = "1.1"

// SlotRecord tracks one of an account's ten upload destinations.
type SlotRecord struct {
	SlotNum    int       `json:"slot_num"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Filename   string    `json:"filename,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	Length     int64     `json:"length,omitempty"`
}

// AccountRecord is one roster entry. Credential material is never stored
// in plaintext; CreatedAt and UpdatedAt are maintained by the store, not
// by callers.
type AccountRecord struct {
	Username            string       `json:"username"`
	PasswordHash        []byte       `json:"password_hash"`
	Salt                []byte       `json:"salt"`
	Admin               bool         `json:"admin"`
	LoginDisabled       bool         `json:"login_disabled"`
	ForcePasswordChange bool         `json:"force_password_change"`
	GraceDeadline       *time.Time   `json:"password_change_grace_deadline,omitempty"`
	Slots               []SlotRecord `json:"slots"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Roster is the complete account store file contents.
type Roster struct {
	FormatVersion string          `json:"format_version"`
	Accounts      []AccountRecord `json:"accounts"`
}

// EmptySlots returns a freshly initialized slot array: NumSlots entries,
// numbered 0..NumSlots-1, all with the empty status.
func EmptySlots(now time.Time) []SlotRecord {
	slots := make([]SlotRecord, NumSlots)
	for i := range slots {
		slots[i] = SlotRecord{
			SlotNum:    i,
			Status:     SlotStatusEmpty,
			LastUpdate: now,
		}
	}
	return slots
}

// Validate checks the per-account schema invariants.
func (r *AccountRecord) Validate() error {
	if r.Username == "" {
		return fmt.Errorf("empty username")
	}
	if len(r.Slots) != NumSlots {
		return fmt.Errorf("account %q: %d slots, want %d", r.Username, len(r.Slots), NumSlots)
	}
	for i, s := range r.Slots {
		if s.SlotNum != i {
			return fmt.Errorf("account %q: slot at index %d numbered %d", r.Username, i, s.SlotNum)
		}
	}
	if r.ForcePasswordChange && r.GraceDeadline == nil {
		return fmt.Errorf("account %q: force_password_change without a grace deadline", r.Username)
	}
	return nil
}

// MustChangePassword reports whether the account may only authenticate
// in order to change its password.
func (r *AccountRecord) MustChangePassword() bool {
	return r.ForcePasswordChange
}

// Clone returns a deep copy, so a caller holding the copy cannot mutate
// the store's view of the record.
func (r *AccountRecord) Clone() *AccountRecord {
	c := *r
	c.Slots = make([]SlotRecord, len(r.Slots))
	copy(c.Slots, r.Slots)
	c.PasswordHash = append([]byte(nil), r.PasswordHash...)
	c.Salt = append([]byte(nil), r.Salt...)
	if r.GraceDeadline != nil {
		d := *r.GraceDeadline
		c.GraceDeadline = &d
	}
	return &c
}

// Validate checks roster-wide invariants: a known format version, unique
// usernames (case-sensitive), and every account record valid.
func (r *Roster) Validate() error {
	if r.FormatVersion != RosterFormatVersion {
		return fmt.Errorf("unknown roster format version %q", r.FormatVersion)
	}
	seen := make(map[string]struct{}, len(r.Accounts))
	for i := range r.Accounts {
		a := &r.Accounts[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.Username]; dup {
			return fmt.Errorf("duplicate username %q", a.Username)
		}
		seen[a.Username] = struct{}{}
	}
	return nil
}

// Find returns a pointer into the roster for the named account, or nil.
func (r *Roster) Find(username string) *AccountRecord {
	for i := range r.Accounts {
		if r.Accounts[i].Username == username {
			return &r.Accounts[i]
		}
	}
	return nil
}
