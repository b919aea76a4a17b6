package notify

import (
	"context"
	"log/slog"
	"time"
)

// Appender persists one notification.
type Appender interface {
	Append(ctx context.Context, level, source, message string) error
}

// Journal stores notifications through an Appender. Write failures are logged
// and dropped.
type Journal struct {
	Writer  Appender
	Source  string
	Logger  *slog.Logger
	Timeout time.Duration
}

func (j Journal) Notify(level Level, message string) {
	if j.Writer == nil {
		return
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := j.Writer.Append(ctx, string(level), j.Source, message); err != nil {
		logger := j.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("journal notification", "error", err)
	}
}
