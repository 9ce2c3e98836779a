// Package logging is the structured logger every fieldsync component takes
// by injection. SlogLogger in slog.go is the only implementation.
package logging

import "context"

// Logger takes alternating key/value args after the message:
//
//	log.Info(ctx, "sync cycle finished", "pushed", n, "state", state)
//
// Components tag their child logger once with With("module", name).
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
