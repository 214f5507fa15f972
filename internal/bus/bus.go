// Package bus provides the async inbound queue between the chat transport and
// the agent loop.
package bus

import (
	"context"
	"time"
)

// InboundMessage is a chat event handed from a channel to the agent.
type InboundMessage struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	TraceID   string    `json:"trace_id"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot,omitempty"`
	Subtype   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplyThread is the thread a reply belongs in: the event's thread, or a new
// thread rooted at the event itself.
func (m *InboundMessage) ReplyThread() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.MessageID
}

// MessageBus decouples channels from the agent core.
type MessageBus struct {
	inbound chan *InboundMessage
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan *InboundMessage, 100),
	}
}

// PublishInbound queues a message for the agent. It blocks while the queue
// is full unless ctx is cancelled.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
