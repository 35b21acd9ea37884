package models

import (
	"fmt"
	"time"
)

// StateFormatVersion identifies the contest state file schema.
const StateFormatVersion = "1.1"

// ContestState is the singleton open/close window record. Either date may
// be absent, meaning "not yet scheduled": no open date means the contest
// has not started, no close date means it never closes.
type ContestState struct {
	FormatVersion string     `json:"format_version"`
	OpenDate      *time.Time `json:"open_date,omitempty"`
	CloseDate     *time.Time `json:"close_date,omitempty"`
}

// Validate rejects a window whose close date precedes its open date.
func (s *ContestState) Validate() error {
	if s.FormatVersion != StateFormatVersion {
		return fmt.Errorf("unknown state format version %q", s.FormatVersion)
	}
	if s.OpenDate != nil && s.CloseDate != nil && s.CloseDate.Before(*s.OpenDate) {
		return fmt.Errorf("close date %s precedes open date %s", s.CloseDate, s.OpenDate)
	}
	return nil
}

// IsOpen reports whether the submission window contains now. When open it
// also returns the close date, if one is scheduled, for display to the
// contestant.
func (s *ContestState) IsOpen(now time.Time) (bool, *time.Time) {
	if s.OpenDate == nil || now.Before(*s.OpenDate) {
		return false, nil
	}
	if s.CloseDate != nil && !now.Before(*s.CloseDate) {
		return false, nil
	}
	return true, s.CloseDate
}
