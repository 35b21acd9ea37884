// Package slots operates on the fixed 10-slot array inside an account
// record. Callers invoke it from inside a locked account-store mutation;
// it never does I/O on the store files itself.
//
// Status strings are opaque here. What counts as a valid submission is
// the upload handler's policy, not this package's.
package slots

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/models"
)

func slot(rec *models.AccountRecord, slotNum int) (*models.SlotRecord, error) {
	if slotNum < 0 || slotNum >= models.NumSlots {
		return nil, fmt.Errorf("%w: %d (valid: 0-%d)", store.ErrInvalidSlot, slotNum, models.NumSlots-1)
	}
	return &rec.Slots[slotNum], nil
}

// SetStatus replaces a slot's status text and touches its LastUpdate.
// The text is stored verbatim; administrators use it for annotations.
func SetStatus(rec *models.AccountRecord, slotNum int, status string, now time.Time) error {
	s, err := slot(rec, slotNum)
	if err != nil {
		return err
	}
	s.Status = status
	s.LastUpdate = now
	return nil
}

// RecordUpload marks a slot as holding an accepted upload, recording the
// file's name, checksum, and length alongside the status change.
func RecordUpload(rec *models.AccountRecord, slotNum int, filename, checksum string, length int64, now time.Time) error {
	s, err := slot(rec, slotNum)
	if err != nil {
		return err
	}
	s.Status = "submitted"
	s.Filename = filename
	s.Checksum = checksum
	s.Length = length
	s.LastUpdate = now
	return nil
}

// Clear returns a slot to the empty state, dropping any recorded upload.
func Clear(rec *models.AccountRecord, slotNum int, now time.Time) error {
	s, err := slot(rec, slotNum)
	if err != nil {
		return err
	}
	*s = models.SlotRecord{
		SlotNum:    slotNum,
		Status:     models.SlotStatusEmpty,
		LastUpdate: now,
	}
	return nil
}

// FileChecksum computes the SHA-256 checksum and byte length of an
// accepted upload, for recording into a slot.
func FileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
