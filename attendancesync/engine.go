package attendancesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/models"
	"github.com/sirupsen/logrus"
)

// Engine decides, per punch, whether it is new and which status it gets.
type Engine struct {
	store  LedgerStore
	loc    *time.Location
	logger logrus.FieldLogger
}

func NewEngine(store LedgerStore, loc *time.Location, logger logrus.FieldLogger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{store: store, loc: loc, logger: logger}
}

type batchItem struct {
	event PunchEvent
	err   error
}

// Reconcile processes events in receipt order inside one ledger transaction.
// Receipt order decides which punch of a day is the CheckedIn one.
func (e *Engine) Reconcile(ctx context.Context, terminal string, events []PunchEvent) (*ReconciliationReport, error) {
	items := make([]batchItem, len(events))
	for i, ev := range events {
		items[i] = batchItem{event: ev}
	}
	return e.reconcile(ctx, terminal, items)
}

// ReconcileRaw normalizes device records and reconciles them. Malformed
// records become Failed outcomes at their receipt position.
func (e *Engine) ReconcileRaw(ctx context.Context, terminal string, raws []device.RawEvent) (*ReconciliationReport, error) {
	items := make([]batchItem, len(raws))
	for i, raw := range raws {
		ev, err := Normalize(raw, e.loc)
		items[i] = batchItem{event: ev, err: err}
	}
	return e.reconcile(ctx, terminal, items)
}

func (e *Engine) reconcile(ctx context.Context, terminal string, items []batchItem) (*ReconciliationReport, error) {
	logger := e.logger.WithField("terminal", terminal)

	var report *ReconciliationReport
	err := e.store.InTx(ctx, func(tx LedgerTx) error {
		report = &ReconciliationReport{
			Terminal: terminal,
			Fetched:  len(items),
			Outcomes: make([]EventOutcome, 0, len(items)),
		}
		for i, item := range items {
			outcome, err := e.reconcileOne(ctx, tx, terminal, i, item, logger)
			if err != nil {
				return err
			}
			report.add(outcome)
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("attendance batch rolled back")
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, terminal, err)
	}

	logger.WithFields(logrus.Fields{
		"fetched":  report.Fetched,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}).Info("attendance batch reconciled")
	return report, nil
}

// reconcileOne returns an error only for failures that must abort the batch.
func (e *Engine) reconcileOne(ctx context.Context, tx LedgerTx, terminal string, index int, item batchItem, logger logrus.FieldLogger) (EventOutcome, error) {
	if item.err != nil {
		logger.WithFields(logrus.Fields{"index": index}).Warn(item.err.Error())
		return EventOutcome{Index: index, Result: ResultFailed, Reason: item.err.Error()}, nil
	}

	ev := item.event
	// The ledger holds wall-clock time of e.loc; compare and store in it.
	ts := ev.Timestamp.In(e.loc)
	outcome := EventOutcome{
		Index:     index,
		UID:       ev.UID,
		UserID:    ev.UserID,
		Timestamp: ts.Format(models.TimestampLayout),
		Punch:     ev.Punch,
	}

	existing, err := tx.FindExact(ctx, ev.UserID, ts)
	if err != nil {
		return EventOutcome{}, fmt.Errorf("lookup %s at %s: %w", ev.UserID, outcome.Timestamp, err)
	}
	if existing != nil {
		if existing.Punch != ev.Punch {
			logger.WithFields(logrus.Fields{
				"user_id":        ev.UserID,
				"timestamp":      outcome.Timestamp,
				"stored_punch":   existing.Punch,
				"received_punch": ev.Punch,
			}).Warn("device reported a different punch for an already recorded instant")
		}
		outcome.Status = existing.Status
		outcome.Result = ResultSkippedDuplicate
		return outcome, nil
	}

	dayStart := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, e.loc)
	sameDay, err := tx.CountOnDay(ctx, ev.UserID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return EventOutcome{}, fmt.Errorf("count %s on %s: %w", ev.UserID, dayStart.Format("2006-01-02"), err)
	}
	ev.Status = StatusCheckedIn
	if sameDay > 0 {
		ev.Status = StatusCheckedOut
	}
	outcome.Status = ev.Status

	rec := &models.Attendance{
		UID:          ev.UID,
		UserID:       ev.UserID,
		Timestamp:    ts,
		Status:       ev.Status,
		Punch:        ev.Punch,
		DeviceStatus: ev.DeviceStatus,
		Terminal:     terminal,
	}
	if err := tx.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Another writer recorded the same instant between lookup and insert.
			outcome.Result = ResultSkippedDuplicate
			outcome.Reason = "recorded concurrently"
			return outcome, nil
		}
		if ctx.Err() != nil {
			return EventOutcome{}, ctx.Err()
		}
		logger.WithFields(logrus.Fields{"index": index, "user_id": ev.UserID}).WithError(err).Warn("attendance insert failed")
		outcome.Result = ResultFailed
		outcome.Reason = err.Error()
		return outcome, nil
	}

	outcome.Result = ResultInserted
	return outcome, nil
}
