// Package session provides the conversation value types shared by the router,
// the meeting orchestrator and the turn store.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Role tells who produced a turn.
type Role string

const (
	// RoleSelf marks text produced by this bot.
	RoleSelf Role = "self"
	// RoleOther marks text from a human or any other party.
	RoleOther Role = "other"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSelf:
		return RoleSelf, nil
	case RoleOther:
		return RoleOther, nil
	}
	return "", fmt.Errorf("unknown turn role %q", s)
}

// Turn is one recorded utterance. Turns are never mutated once recorded.
type Turn struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
}

// Split separates a chronological sequence into the history fed to the
// backend and the final turn, which is the new input.
func Split(turns []Turn) (history []Turn, current Turn, ok bool) {
	if len(turns) == 0 {
		return nil, Turn{}, false
	}
	return turns[:len(turns)-1], turns[len(turns)-1], true
}

// Key identifies a thread inside a channel.
func Key(channelID, threadID string) string {
	return channelID + ":" + threadID
}

// Entry is one spoken turn of a meeting.
type Entry struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Meeting is the ephemeral state of one multi-persona session. It is never
// persisted and is discarded once the closing announcement is sent.
type Meeting struct {
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id"`
	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
	entries   []Entry
	mu        sync.RWMutex
}

// NewMeeting creates a meeting session for a thread.
func NewMeeting(channelID, threadID, topic string) *Meeting {
	return &Meeting{
		ChannelID: channelID,
		ThreadID:  threadID,
		Topic:     topic,
		StartedAt: time.Now(),
	}
}

// Add records what a speaker said.
func (m *Meeting) Add(speaker, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, Entry{Speaker: speaker, Text: text, At: time.Now()})
}

// Entries returns a copy of the spoken turns in order.
func (m *Meeting) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Last returns the most recent entry.
func (m *Meeting) Last() (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return Entry{}, false
	}
	return m.entries[len(m.entries)-1], true
}
