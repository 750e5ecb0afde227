package attendancesync

import (
	"errors"
	"time"
)

const (
	StatusCheckedIn  = "CheckedIn"
	StatusCheckedOut = "CheckedOut"
)

var (
	// ErrMalformedEvent marks a device record that cannot be coerced into a PunchEvent.
	ErrMalformedEvent = errors.New("malformed attendance event")
	// ErrStoreUnavailable marks a ledger failure that rolled back a whole batch.
	ErrStoreUnavailable = errors.New("attendance store unavailable")
	// ErrDuplicate is returned by LedgerTx.Insert when (user_id, timestamp) already exists.
	ErrDuplicate = errors.New("attendance already recorded")
)

// PunchEvent is the canonical, typed form of one punch.
type PunchEvent struct {
	UID       int
	UserID    string
	Timestamp time.Time
	Punch     int
	// Status is assigned during reconciliation.
	Status string
	// DeviceStatus is the terminal's own status code, kept as reported.
	DeviceStatus *int
}

type OutcomeResult string

const (
	ResultInserted         OutcomeResult = "inserted"
	ResultSkippedDuplicate OutcomeResult = "skipped_duplicate"
	ResultFailed           OutcomeResult = "failed"
)

// EventOutcome is the decision for one event, in receipt position Index.
type EventOutcome struct {
	Index     int           `json:"index"`
	UID       int           `json:"uid,omitempty"`
	UserID    string        `json:"user_id,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Punch     int           `json:"punch"`
	Status    string        `json:"status,omitempty"`
	Result    OutcomeResult `json:"result"`
	Reason    string        `json:"reason,omitempty"`
}

type ReconciliationReport struct {
	Terminal string         `json:"terminal"`
	Fetched  int            `json:"fetched"`
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Outcomes []EventOutcome `json:"outcomes"`
}

func (r *ReconciliationReport) add(o EventOutcome) {
	switch o.Result {
	case ResultInserted:
		r.Inserted++
	case ResultSkippedDuplicate:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

type ErrorKind string

const (
	ErrorKindDeviceUnreachable ErrorKind = "device_unreachable"
	ErrorKindDevice            ErrorKind = "device_error"
	ErrorKindStoreUnavailable  ErrorKind = "store_unavailable"
)

// PollOutcome is the result of polling one terminal: a report or an error.
type PollOutcome struct {
	Terminal string                `json:"terminal"`
	Report   *ReconciliationReport `json:"report,omitempty"`
	Error    string                `json:"error,omitempty"`
	Kind     ErrorKind             `json:"kind,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

func (o PollOutcome) OK() bool {
	return o.Error == ""
}
