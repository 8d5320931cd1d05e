package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "info"
}

// Notifier shows a short message to the user.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity) error
}

// Multi fans a notification out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string, severity Severity) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Notify(ctx, message, severity))
	}
	return err
}

// Log writes notifications to the logger. It is the default sink when the
// host provides no on-screen notifier.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, message string, severity Severity) error {
	if l.Logger == nil {
		return nil
	}
	if severity == SeverityError {
		l.Logger.Warn("notification", zap.String("message", message), zap.Stringer("severity", severity))
		return nil
	}
	l.Logger.Info("notification", zap.String("message", message), zap.Stringer("severity", severity))
	return nil
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, message string, severity Severity) error

func (f Func) Notify(ctx context.Context, message string, severity Severity) error {
	return f(ctx, message, severity)
}
