package attendancesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/attendance_backend/config"
	"github.com/mmdatafocus/attendance_backend/device"
	"github.com/mmdatafocus/attendance_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Orchestrator polls the configured terminals and feeds their punches to the Engine.
type Orchestrator struct {
	cfg    *config.Config
	client device.Client
	engine *Engine
	logger logrus.FieldLogger
	tracer trace.Tracer
}

func NewOrchestrator(cfg *config.Config, client device.Client, engine *Engine, logger logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		engine: engine,
		logger: logger,
		tracer: otel.Tracer("attendancesync"),
	}
}

// PollAll polls every terminal and returns one outcome per terminal id.
// A failing terminal never affects the others.
func (o *Orchestrator) PollAll(ctx context.Context) map[string]PollOutcome {
	terminals := o.cfg.Terminals
	outcomes := make([]PollOutcome, len(terminals))

	var g errgroup.Group
	g.SetLimit(max(o.cfg.PollConcurrency, 1))
	for i, t := range terminals {
		g.Go(func() error {
			outcomes[i] = o.pollTerminal(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]PollOutcome, len(outcomes))
	for _, out := range outcomes {
		result[out.Terminal] = out
	}
	return result
}

func (o *Orchestrator) pollTerminal(ctx context.Context, t config.Terminal) (out PollOutcome) {
	id := t.ID()
	out.Terminal = id

	ctx = utils.SetTerminalInContext(ctx, id)
	ctx, span := o.tracer.Start(ctx, "attendancesync.pollTerminal", trace.WithAttributes(attribute.String("terminal", id)))
	defer span.End()

	logger := o.logger.WithField("terminal", id)
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		logger = logger.WithField("correlation_id", cid)
	}

	// A panic below is still reported as this terminal's failure only.
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while polling: %v", r)
			logger.WithError(err).Error("terminal poll panicked")
			out.Report = nil
			out.Error = "internal error while polling terminal"
			out.Kind = ErrorKindDevice
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	onRelease := func(step string, err error) {
		logger.WithError(err).Warnf("device %s failed", step)
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", step, err))
	}

	logger.Info("connecting to device to fetch attendance")
	err := device.WithSession(ctx, o.client, t.Host, t.Port, o.cfg.DeviceTimeout, onRelease, func(ctx context.Context, s device.Session) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.DeviceTimeout)
		raws, err := s.FetchAttendance(fetchCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("fetch attendance: %w", err)
		}
		span.SetAttributes(attribute.Int("attendance.fetched", len(raws)))

		report, err := o.engine.ReconcileRaw(ctx, id, raws)
		if err != nil {
			return err
		}
		out.Report = report
		return nil
	})
	if err != nil {
		out.Report = nil
		out.Error = err.Error()
		out.Kind = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithFields(logrus.Fields{"kind": out.Kind}).WithError(err).Error("error while fetching attendance")
		return out
	}
	logger.Info("attendance records fetched successfully")
	return out
}

// FetchUsers returns the raw user records of the first configured terminal.
func (o *Orchestrator) FetchUsers(ctx context.Context) ([]device.UserRecord, error) {
	if len(o.cfg.Terminals) == 0 {
		return nil, errors.New("no terminals configured")
	}
	t := o.cfg.Terminals[0]
	logger := o.logger.WithField("terminal", t.ID())

	var users []device.UserRecord
	err := device.WithSession(ctx, o.client, t.Host, t.Port, o.cfg.DeviceTimeout,
		func(step string, err error) { logger.WithError(err).Warnf("device %s failed", step) },
		func(ctx context.Context, s device.Session) error {
			fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.DeviceTimeout)
			defer cancel()
			var err error
			users, err = s.FetchUsers(fetchCtx)
			return err
		})
	if err != nil {
		logger.WithError(err).Error("error while fetching users")
		return nil, err
	}
	logger.WithField("count", len(users)).Info("user records fetched successfully")
	return users, nil
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return ErrorKindStoreUnavailable
	case device.IsUnreachable(err):
		return ErrorKindDeviceUnreachable
	default:
		return ErrorKindDevice
	}
}
