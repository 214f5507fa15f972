// Package audit streams recovered faults to a Kafka topic so operators can
// watch failures across instances.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/councilbot/councilbot/internal/fault"
)

// Event is the JSON record written for each fault.
type Event struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Instance  string    `json:"instance"`
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Persona   string    `json:"persona,omitempty"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a fault.Reporter that queues events and writes them to Kafka
// from a background loop. Report never blocks; events are dropped when the
// queue is full.
type Publisher struct {
	writer   messageWriter
	instance string
	queue    chan Event
	logger   *slog.Logger

	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewPublisher creates a publisher writing to topic on a comma-separated
// broker list.
func NewPublisher(brokers, topic, instance string) (*Publisher, error) {
	list := splitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("audit: no kafka brokers configured")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("audit: topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           200 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, instance), nil
}

func newPublisher(w messageWriter, instance string) *Publisher {
	return &Publisher{
		writer:   w,
		instance: instance,
		queue:    make(chan Event, 256),
		logger:   slog.Default().With("component", "audit"),
	}
}

// Report implements fault.Reporter.
func (p *Publisher) Report(_ context.Context, f fault.Fault) {
	ev := Event{
		Type:      "fault",
		Kind:      string(f.Kind),
		Instance:  p.instance,
		ChannelID: f.ChannelID,
		ThreadID:  f.ThreadID,
		Persona:   f.Persona,
		At:        f.At,
	}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run writes queued events until ctx is cancelled, then flushes what is left
// and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-p.queue:
			p.write(ctx, ev)
		case <-ctx.Done():
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-p.queue:
					p.write(flushCtx, ev)
				default:
					return p.writer.Close()
				}
			}
		}
	}
}

func (p *Publisher) write(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("Audit event encode failed", "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.ChannelID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("Audit event write failed", "kind", ev.Kind, "error", err)
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
