package agent

import (
	"context"
	"time"

	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/session"
)

// Publisher posts into chat threads.
type Publisher interface {
	// Reply posts under the bot's own identity.
	Reply(ctx context.Context, channelID, threadID, text string) error
	// PublishAs posts under a persona's display name and icon.
	PublishAs(ctx context.Context, p persona.Persona, channelID, threadID, text string) error
}

// ThreadHistory reads a live chat thread as chronological turns. An empty
// result means the thread could not be read.
type ThreadHistory interface {
	LoadThreadHistory(ctx context.Context, channelID, threadID string) []session.Turn
}

// TurnStore is the persisted, append-only turn log.
type TurnStore interface {
	AppendTurn(ctx context.Context, channelID, threadID string, role session.Role, text string) (session.Turn, error)
	RecentTurns(ctx context.Context, channelID, threadID string, limit int) ([]session.Turn, error)
}

// Request is the inbound text a context source builds around.
type Request struct {
	ChannelID string
	ThreadID  string
	// MessageID is the platform id of the input, matched against Turn.ID.
	MessageID string
	Text      string
	At        time.Time
}

func (r Request) current() session.Turn {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return session.Turn{
		Role:      session.RoleOther,
		Text:      r.Text,
		Timestamp: at,
		ChannelID: r.ChannelID,
		ThreadID:  r.ThreadID,
		ID:        r.MessageID,
	}
}

// ContextSource assembles the chronological turns for one reply. The final
// turn is always the input being answered.
type ContextSource interface {
	Assemble(ctx context.Context, req Request) []session.Turn
}

// ThreadContext rebuilds context from the live chat thread.
type ThreadContext struct {
	History ThreadHistory
}

func (t ThreadContext) Assemble(ctx context.Context, req Request) []session.Turn {
	var turns []session.Turn
	if t.History != nil && req.ThreadID != "" {
		turns = t.History.LoadThreadHistory(ctx, req.ChannelID, req.ThreadID)
	}
	_, last, ok := session.Split(turns)
	if !ok {
		return []session.Turn{req.current()}
	}
	if last.Role == session.RoleSelf || (req.MessageID != "" && last.ID != req.MessageID) {
		// The read lagged behind the inbound event.
		return append(turns, req.current())
	}
	return turns
}

// StoreContext replays the most recent stored turns of the thread and
// appends the current input.
type StoreContext struct {
	Store  TurnStore
	Limit  int
	Faults fault.Reporter
}

func (s StoreContext) Assemble(ctx context.Context, req Request) []session.Turn {
	var turns []session.Turn
	if s.Store != nil && s.Limit > 0 {
		recent, err := s.Store.RecentTurns(ctx, req.ChannelID, req.ThreadID, s.Limit)
		if err != nil {
			fault.Report(ctx, s.Faults, fault.Fault{
				Kind:      fault.KindStoreRead,
				ChannelID: req.ChannelID,
				ThreadID:  req.ThreadID,
				Err:       err,
			})
		} else {
			turns = recent
		}
	}
	out := make([]session.Turn, 0, len(turns)+1)
	out = append(out, turns...)
	return append(out, req.current())
}
