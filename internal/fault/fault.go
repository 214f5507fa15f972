// Package fault reports failures that the bot recovers from locally. A fault
// never stops event processing; reporting only makes it observable.
package fault

import (
	"context"
	"log/slog"
	"time"
)

// Kind classifies a recovered failure.
type Kind string

const (
	// KindGeneration: the model backend produced no text.
	KindGeneration Kind = "generation"
	// KindHistoryFetch: the chat platform read API failed.
	KindHistoryFetch Kind = "history_fetch"
	// KindPublish: the chat platform rejected a post.
	KindPublish Kind = "publish"
	// KindStoreWrite: appending a turn to the store failed.
	KindStoreWrite Kind = "store_write"
	// KindStoreRead: reading turns from the store failed.
	KindStoreRead Kind = "store_read"
)

// Fault describes one recovered failure.
type Fault struct {
	Kind      Kind
	ChannelID string
	ThreadID  string
	Persona   string
	Err       error
	At        time.Time
}

// Reporter receives recovered failures. Implementations must not block for long.
type Reporter interface {
	Report(ctx context.Context, f Fault)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, f Fault)

func (fn ReporterFunc) Report(ctx context.Context, f Fault) { fn(ctx, f) }

// LogReporter writes faults to a slog logger. A nil Logger uses slog.Default.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) Report(ctx context.Context, f Fault) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "Recovered failure",
		"kind", string(f.Kind),
		"channel", f.ChannelID,
		"thread", f.ThreadID,
		"persona", f.Persona,
		"error", f.Err,
	)
}

// Multi fans a fault out to several reporters.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, f Fault) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, f)
		}
	}
}

// Report stamps the fault time and forwards to r; a nil r falls back to LogReporter.
func Report(ctx context.Context, r Reporter, f Fault) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	if r == nil {
		r = LogReporter{}
	}
	r.Report(ctx, f)
}
