// Package devicetest provides an in-memory device.Client for tests.
package devicetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/attendance_backend/device"
)

// Terminal scripts the behaviour of one fake terminal.
type Terminal struct {
	Events     []device.RawEvent
	Users      []device.UserRecord
	ConnectErr error
	DisableErr error
	FetchErr   error
	EnableErr  error
	CloseErr   error
	// FetchDelay blocks FetchAttendance until it elapses or ctx is done.
	FetchDelay time.Duration
}

// Counts tracks lifecycle calls made against one terminal.
type Counts struct {
	Connects int
	Disables int
	Enables  int
	Closes   int
	Fetches  int
}

type Client struct {
	mu        sync.Mutex
	terminals map[string]*Terminal
	counts    map[string]*Counts
}

func NewClient() *Client {
	return &Client{
		terminals: map[string]*Terminal{},
		counts:    map[string]*Counts{},
	}
}

// Set registers the script for host. Unknown hosts refuse connections.
func (c *Client) Set(host string, t Terminal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminals[host] = &t
}

func (c *Client) Counts(host string) Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.counts[host]; n != nil {
		return *n
	}
	return Counts{}
}

func (c *Client) bump(host string, f func(*Counts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[host]
	if n == nil {
		n = &Counts{}
		c.counts[host] = n
	}
	f(n)
}

func (c *Client) Connect(ctx context.Context, host string, port int, timeout time.Duration) (device.Session, error) {
	c.mu.Lock()
	t := c.terminals[host]
	c.mu.Unlock()

	if t == nil {
		return nil, errors.Join(device.ErrUnreachable, errors.New("connection refused: "+host))
	}
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	c.bump(host, func(n *Counts) { n.Connects++ })
	return &session{client: c, host: host, terminal: t}, nil
}

type session struct {
	client   *Client
	host     string
	terminal *Terminal
}

func (s *session) Disable(ctx context.Context) error {
	s.client.bump(s.host, func(n *Counts) { n.Disables++ })
	return s.terminal.DisableErr
}

func (s *session) Enable(ctx context.Context) error {
	s.client.bump(s.host, func(n *Counts) { n.Enables++ })
	return s.terminal.EnableErr
}

func (s *session) FetchAttendance(ctx context.Context) ([]device.RawEvent, error) {
	s.client.bump(s.host, func(n *Counts) { n.Fetches++ })
	if s.terminal.FetchDelay > 0 {
		select {
		case <-time.After(s.terminal.FetchDelay):
		case <-ctx.Done():
			return nil, errors.Join(device.ErrUnreachable, ctx.Err())
		}
	}
	if s.terminal.FetchErr != nil {
		return nil, s.terminal.FetchErr
	}
	out := make([]device.RawEvent, len(s.terminal.Events))
	copy(out, s.terminal.Events)
	return out, nil
}

func (s *session) FetchUsers(ctx context.Context) ([]device.UserRecord, error) {
	if s.terminal.FetchErr != nil {
		return nil, s.terminal.FetchErr
	}
	return s.terminal.Users, nil
}

func (s *session) Close(ctx context.Context) error {
	s.client.bump(s.host, func(n *Counts) { n.Closes++ })
	return s.terminal.CloseErr
}
