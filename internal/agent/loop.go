package agent

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/councilbot/councilbot/internal/bus"
	"github.com/councilbot/councilbot/internal/scheduler"
)

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, msg *bus.InboundMessage) Outcome
}

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Bus           *bus.MessageBus
	Handler       Handler
	MaxConcurrent int
	Logger        *slog.Logger
}

// Loop drains the inbound bus, running at most MaxConcurrent events at once.
type Loop struct {
	bus     *bus.MessageBus
	handler Handler
	sem     *scheduler.Semaphore
	logger  *slog.Logger
	handled atomic.Int64
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Bus == nil || opts.Handler == nil {
		return nil, errors.New("loop: bus and handler are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		bus:     opts.Bus,
		handler: opts.Handler,
		sem:     scheduler.NewSemaphore(opts.MaxConcurrent),
		logger:  logger,
	}, nil
}

// Run consumes until ctx is cancelled, then waits for in-flight events.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Agent loop started", "max_concurrent", l.sem.Cap())
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Agent loop stopping")
				return nil
			}
			l.logger.Error("Failed to consume message", "error", err)
			continue
		}
		if err := l.sem.Acquire(ctx); err != nil {
			l.logger.Info("Agent loop stopping")
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.sem.Release()
			l.dispatch(ctx, msg)
		}()
	}
}

func (l *Loop) dispatch(ctx context.Context, msg *bus.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("Handler panicked", "trace_id", msg.TraceID, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	l.handler.Handle(ctx, msg)
	l.handled.Add(1)
}

// Handled returns how many events have been processed.
func (l *Loop) Handled() int64 {
	return l.handled.Load()
}
