package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/councilbot/councilbot/internal/bus"
)

type handlerFunc func(ctx context.Context, msg *bus.InboundMessage) Outcome

func (f handlerFunc) Handle(ctx context.Context, msg *bus.InboundMessage) Outcome { return f(ctx, msg) }

func TestLoopDispatchesUntilCancelled(t *testing.T) {
	b := bus.NewMessageBus()
	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{}, 3)
	loop, err := NewLoop(LoopOptions{
		Bus:           b,
		MaxConcurrent: 2,
		Handler: handlerFunc(func(_ context.Context, msg *bus.InboundMessage) Outcome {
			mu.Lock()
			seen = append(seen, msg.Content)
			mu.Unlock()
			done <- struct{}{}
			return OutcomeReplied
		}),
	})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	for _, text := range []string{"a", "b", "c"} {
		if err := b.PublishInbound(ctx, &bus.InboundMessage{ChatID: "C1", Content: text}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || loop.Handled() != 3 {
		t.Fatalf("expected 3 handled events, got %v (%d)", seen, loop.Handled())
	}
}

func TestLoopRecoversFromHandlerPanic(t *testing.T) {
	b := bus.NewMessageBus()
	calls := make(chan string, 2)
	loop, err := NewLoop(LoopOptions{
		Bus: b,
		Handler: handlerFunc(func(_ context.Context, msg *bus.InboundMessage) Outcome {
			calls <- msg.Content
			if msg.Content == "boom" {
				panic("handler exploded")
			}
			return OutcomeReplied
		}),
	})
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	_ = b.PublishInbound(ctx, &bus.InboundMessage{Content: "boom"})
	_ = b.PublishInbound(ctx, &bus.InboundMessage{Content: "ok"})
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("loop stopped after panic")
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewLoopRequiresHandler(t *testing.T) {
	if _, err := NewLoop(LoopOptions{Bus: bus.NewMessageBus()}); err == nil {
		t.Fatal("expected missing handler error")
	}
}
