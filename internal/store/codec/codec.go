// Package codec serializes the roster and contest-state records to the
// JSON exchange format and validates the schema on load.
//
// Encoding is deterministic: fields appear in declaration order, accounts
// are ordered by username, and indentation is fixed. Re-encoding an
// unchanged record therefore produces byte-identical output, which the
// atomic-replace discipline and the tests rely on.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/avandyk/submitstore/internal/store"
	"github.com/avandyk/submitstore/internal/store/models"
)

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	// A store file holds exactly one JSON document.
	if dec.More() {
		return fmt.Errorf("trailing data after record")
	}
	return nil
}

// DecodeRoster parses and validates an accounts file. Any structural or
// invariant failure is reported as store.ErrSchema.
func DecodeRoster(data []byte) (*models.Roster, error) {
	var r models.Roster
	if err := decodeStrict(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	return &r, nil
}

// EncodeRoster renders a roster deterministically. The input is validated
// first so a corrupt record set can never reach the disk. The caller's
// roster is not modified.
func EncodeRoster(r *models.Roster) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}

	sorted := models.Roster{
		FormatVersion: r.FormatVersion,
		Accounts:      append([]models.AccountRecord(nil), r.Accounts...),
	}
	sort.Slice(sorted.Accounts, func(i, j int) bool {
		return sorted.Accounts[i].Username < sorted.Accounts[j].Username
	})

	return marshal(&sorted)
}

// DecodeState parses and validates a contest state file.
func DecodeState(data []byte) (*models.ContestState, error) {
	var s models.ContestState
	if err := decodeStrict(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	return &s, nil
}

// EncodeState renders the contest state deterministically.
func EncodeState(s *models.ContestState) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSchema, err)
	}
	return marshal(s)
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
