// Package timeline is the durable, append-only log of conversation turns
// keyed by channel and optional thread.
package timeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/councilbot/councilbot/internal/session"
)

type TimelineService struct {
	db  *sql.DB
	now func() time.Time

	// mu serializes appends so timestamps are strictly increasing in
	// insertion order.
	mu   sync.Mutex
	last int64
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create timeline dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &TimelineService{db: db, now: time.Now}
	if err := db.QueryRow(`SELECT COALESCE(MAX(created_at), 0) FROM turns`).Scan(&s.last); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read last turn time: %w", err)
	}
	return s, nil
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// AppendTurn records one turn with a service-assigned timestamp. threadID may
// be empty for channel-level turns.
func (s *TimelineService) AppendTurn(ctx context.Context, channelID, threadID string, role session.Role, text string) (session.Turn, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return session.Turn{}, fmt.Errorf("append turn: channel id is required")
	}
	if _, err := session.ParseRole(string(role)); err != nil {
		return session.Turn{}, fmt.Errorf("append turn: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	turn := session.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Unix(0, ts).UTC(),
		ChannelID: channelID,
		ThreadID:  strings.TrimSpace(threadID),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, channel_id, thread_id, role, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ChannelID, turn.ThreadID, string(turn.Role), turn.Text, ts,
	)
	if err != nil {
		return session.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	s.last = ts
	return turn, nil
}

// RecentTurns returns at most limit of the newest turns for a channel, and
// for a thread when threadID is set, in ascending chronological order. Turns
// appended after the call started are never included.
func (s *TimelineService) RecentTurns(ctx context.Context, channelID, threadID string, limit int) ([]session.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	cutoff := s.now().UnixNano()
	if s.last > cutoff {
		cutoff = s.last
	}
	s.mu.Unlock()

	query := `SELECT turn_id, channel_id, thread_id, role, text, created_at FROM turns WHERE channel_id = ? AND created_at <= ?`
	args := []any{strings.TrimSpace(channelID), cutoff}
	if th := strings.TrimSpace(threadID); th != "" {
		query += " AND thread_id = ?"
		args = append(args, th)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			t    session.Turn
			role string
			ts   int64
		)
		if err := rows.Scan(&t.ID, &t.ChannelID, &t.ThreadID, &role, &t.Text, &ts); err != nil {
			return nil, fmt.Errorf("recent turns: %w", err)
		}
		t.Role = session.Role(role)
		t.Timestamp = time.Unix(0, ts).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	// Newest-first from the query; callers need oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountTurns returns the number of stored turns for a channel.
func (s *TimelineService) CountTurns(ctx context.Context, channelID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE channel_id = ?`, channelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *TimelineService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
