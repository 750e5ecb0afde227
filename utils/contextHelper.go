package utils

import (
	"context"

	"github.com/mmdatafocus/attendance_backend/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTerminal      = appctx.ContextKeyTerminal
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetTerminalFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTerminal)
}

func SetTerminalInContext(ctx context.Context, terminal string) context.Context {
	return appctx.Set(ctx, ContextKeyTerminal, terminal)
}
