package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type triggerOptions struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &triggerOptions{}

	cmd := &cobra.Command{
		Use:   "poll-trigger",
		Short: "Trigger an attendance poll on a running service",
		Long: `Trigger an attendance poll on a running service.

With --interval 0 a single GET is sent to --url and the response printed.
A positive --interval repeats the request until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd.Context(), opts, cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "http://127.0.0.1:9000/get_attendance", "poll endpoint")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "repeat interval (0 runs once)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "per request timeout")

	return cmd
}

func newLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(out)
	return logger
}

func runTrigger(ctx context.Context, opts *triggerOptions, out io.Writer, logger logrus.FieldLogger) error {
	if opts.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	client := &http.Client{Timeout: opts.Timeout}

	if opts.Interval <= 0 {
		return triggerOnce(ctx, client, opts.URL, out, logger)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		// A failed trigger is logged and retried on the next tick.
		_ = triggerOnce(ctx, client, opts.URL, out, logger)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func triggerOnce(ctx context.Context, client *http.Client, url string, out io.Writer, logger logrus.FieldLogger) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		logger.WithFields(logrus.Fields{"url": url}).Error("error occurred: " + err.Error())
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.WithFields(logrus.Fields{"url": url}).Error("error reading response: " + err.Error())
		return err
	}
	fmt.Fprintf(out, "Response [%d]: %s\n", resp.StatusCode, body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("poll returned status %d", resp.StatusCode)
	}
	return nil
}
