// Package notify delivers user-visible notices. Delivery is fire-and-forget:
// a sink that fails logs the problem and moves on.
package notify

import (
	"context"
	"log/slog"

	"github.com/parkspot/tracker/pkg/core"
)

// Notifier accepts a notice for delivery.
type Notifier interface {
	Notify(ctx context.Context, n core.Notice)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n core.Notice)

func (f Func) Notify(ctx context.Context, n core.Notice) { f(ctx, n) }

// Multi fans a notice out to every non-nil notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n core.Notice) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Discard drops every notice.
var Discard Notifier = Func(func(context.Context, core.Notice) {})

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n core.Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Level {
	case core.NoticeWarning:
		level = slog.LevelWarn
	case core.NoticeError:
		level = slog.LevelError
	}
	logger.Log(ctx, level, n.Title,
		"key", n.Key,
		"level", string(n.Level),
		"body", n.Body,
		"subject", n.Subject)
}
