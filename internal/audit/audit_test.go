package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/councilbot/councilbot/internal/fault"
)

type captureWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) snapshot() ([]kafka.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.closed
}

func TestPublisherWritesFaultEvents(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, "host-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Report(ctx, fault.Fault{
		Kind:      fault.KindGeneration,
		ChannelID: "C1",
		ThreadID:  "1.0",
		Persona:   "Director",
		Err:       errors.New("quota"),
		At:        at,
	})

	deadline := time.After(2 * time.Second)
	for {
		msgs, _ := w.snapshot()
		if len(msgs) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for audit write")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs, closed := w.snapshot()
	if !closed {
		t.Fatal("writer should be closed after Run returns")
	}
	var ev Event
	if err := json.Unmarshal(msgs[0].Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != "generation" || ev.Instance != "host-1" || ev.Error != "quota" || !ev.At.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
	if string(msgs[0].Key) != "C1" {
		t.Fatalf("expected channel key, got %q", msgs[0].Key)
	}
}

func TestPublisherFlushesOnShutdown(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, "host-1")
	p.Report(context.Background(), fault.Fault{Kind: fault.KindPublish, ChannelID: "C1"})
	p.Report(context.Background(), fault.Fault{Kind: fault.KindStoreWrite, ChannelID: "C2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if msgs, _ := w.snapshot(); len(msgs) != 2 {
		t.Fatalf("expected queued events flushed, got %d", len(msgs))
	}
	p.Report(context.Background(), fault.Fault{Kind: fault.KindPublish})
	if msgs, _ := w.snapshot(); len(msgs) != 2 {
		t.Fatal("reports after shutdown must be discarded")
	}
}

func TestPublisherDropsWhenQueueFull(t *testing.T) {
	p := newPublisher(&captureWriter{}, "host-1")
	for i := 0; i < cap(p.queue)+3; i++ {
		p.Report(context.Background(), fault.Fault{Kind: fault.KindPublish})
	}
	if p.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", p.Dropped())
	}
}

func TestNewPublisherValidates(t *testing.T) {
	if _, err := NewPublisher(" , ", "faults", "h"); err == nil {
		t.Fatal("expected broker error")
	}
	if _, err := NewPublisher("localhost:9092", "", "h"); err == nil {
		t.Fatal("expected topic error")
	}
	p, err := NewPublisher("localhost:9092, localhost:9093", "faults", "h")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	_ = p.writer.Close()
}
