// Package device describes the capability the service needs from an
// attendance terminal and ships a JSON-over-HTTP terminal gateway client.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"
)

// ErrUnreachable marks connect, transport and timeout failures against a terminal.
var ErrUnreachable = errors.New("device unreachable")

// RawEvent is a punch exactly as the terminal reported it. Field types vary
// by firmware and transport, so nothing is coerced here.
type RawEvent struct {
	UID       any `json:"uid"`
	UserID    any `json:"user_id"`
	Timestamp any `json:"timestamp"`
	Punch     any `json:"punch"`
	Status    any `json:"status,omitempty"`
}

// UserRecord is an enrolled user as reported by the terminal.
type UserRecord struct {
	UID       int        `json:"uid"`
	UserID    FlexString `json:"user_id"`
	Name      string     `json:"name"`
	Privilege int        `json:"privilege"`
	GroupID   FlexString `json:"group_id"`
	Card      FlexString `json:"card"`
}

// FlexString decodes from either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Session is one open connection to a terminal. Sessions are never shared
// between goroutines.
type Session interface {
	// Disable suspends the terminal's local processing loop.
	Disable(ctx context.Context) error
	// Enable resumes it.
	Enable(ctx context.Context) error
	FetchAttendance(ctx context.Context) ([]RawEvent, error)
	FetchUsers(ctx context.Context) ([]UserRecord, error)
	Close(ctx context.Context) error
}

type Client interface {
	Connect(ctx context.Context, host string, port int, timeout time.Duration) (Session, error)
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
