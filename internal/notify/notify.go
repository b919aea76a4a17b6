// Package notify is the fire-and-forget notification surface.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notifier accepts user-facing messages. Implementations must not block on
// slow sinks for long and must never report failure to the caller.
type Notifier interface {
	Notify(level Level, message string)
}

// Func adapts a function to Notifier.
type Func func(level Level, message string)

func (f Func) Notify(level Level, message string) { f(level, message) }

// Log writes notifications to a slog.Logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(level Level, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lvl := slog.LevelInfo
	if level == LevelError {
		lvl = slog.LevelError
	}
	logger.Log(context.Background(), lvl, message, "kind", string(level))
}

// Entry is a recorded notification.
type Entry struct {
	Level   Level
	Message string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: message})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns the number of entries with the given level.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Multi fans a notification out to every notifier. A panicking sink is
// contained so that the remaining sinks and the caller are unaffected.
type Multi []Notifier

func (m Multi) Notify(level Level, message string) {
	for _, n := range m {
		if n == nil {
			continue
		}
		deliver(n, level, message)
	}
}

func deliver(n Notifier, level Level, message string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("notifier panicked", "panic", r)
		}
	}()
	n.Notify(level, message)
}
