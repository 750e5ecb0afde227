package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReleaseHook receives failures of the release steps ("enable", "close").
type ReleaseHook func(step string, err error)

// WithSession connects to the terminal, suspends it and runs fn. On every exit
// path, including a panic inside fn, the terminal is resumed (when it was
// suspended) and the session is closed. Release steps get their own timeout
// and survive cancellation of ctx.
func WithSession(ctx context.Context, c Client, host string, port int, timeout time.Duration, onRelease ReleaseHook, fn func(ctx context.Context, s Session) error) error {
	report := func(step string, err error) {
		if onRelease != nil {
			onRelease(step, err)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	s, err := c.Connect(connectCtx, host, port, timeout)
	cancel()
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: connect %s: no session", ErrUnreachable, address(host, port))
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := s.Close(releaseCtx); err != nil {
			report("close", err)
		}
	}()

	disableCtx, cancel := context.WithTimeout(ctx, timeout)
	err = s.Disable(disableCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("disable device: %w", err)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := s.Enable(releaseCtx); err != nil {
			report("enable", err)
		}
	}()

	return fn(ctx, s)
}

// IsUnreachable reports whether err came from connecting to or talking with a terminal.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded)
}
