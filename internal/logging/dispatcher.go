package logging

import "log/slog"

// DispatcherLogger satisfies dispatcher.Logger. Every record carries
// component=dispatcher so command traffic can be filtered out of the log.
type DispatcherLogger struct {
	*slog.Logger
}

func NewDispatcherLogger(logger *slog.Logger) *DispatcherLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatcherLogger{Logger: logger.With("component", "dispatcher")}
}
