// Package agent routes inbound chat events to a persona reply or to a
// multi-persona meeting.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/councilbot/councilbot/internal/bus"
	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/provider"
	"github.com/councilbot/councilbot/internal/session"
)

// DefaultApologyFormat is posted when generation fails; %s is the cause.
const DefaultApologyFormat = "Sorry, something went wrong while thinking.\nError: %s"

// Outcome tells what Handle did with an event.
type Outcome int

const (
	// OutcomeIgnored: the event was self-authored, bot-generated or a
	// platform notification.
	OutcomeIgnored Outcome = iota
	// OutcomeUnassigned: no persona is bound to the channel.
	OutcomeUnassigned
	// OutcomeMeeting: the event started a meeting.
	OutcomeMeeting
	// OutcomeReplied: a generated reply was posted.
	OutcomeReplied
	// OutcomeApologized: generation failed and the apology was posted.
	OutcomeApologized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUnassigned:
		return "unassigned"
	case OutcomeMeeting:
		return "meeting"
	case OutcomeReplied:
		return "replied"
	case OutcomeApologized:
		return "apologized"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// userSubtypes are message subtypes that still carry human text.
var userSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Registry  *persona.Registry
	Gateway   provider.Gateway
	Publisher Publisher
	// Context builds the turns for a reply. Nil uses the input alone.
	Context ContextSource
	// Store, when set, records each input and reply.
	Store   TurnStore
	Meeting *Meeting
	Faults  fault.Reporter
	// FallbackToDefault answers unbound channels with the default persona.
	FallbackToDefault bool
	ApologyFormat     string
	StoreTimeout      time.Duration
	// BotUserID returns the bot's own platform id.
	BotUserID func() string
	Logger    *slog.Logger
}

// Router answers single inbound events. It keeps no state between events.
type Router struct {
	registry  *persona.Registry
	gateway   provider.Gateway
	publisher Publisher
	context   ContextSource
	store     TurnStore
	meeting   *Meeting
	faults    fault.Reporter
	fallback  bool
	apology   string
	storeTTL  time.Duration
	botUserID func() string
	logger    *slog.Logger
}

// NewRouter validates options and builds a Router.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Registry == nil {
		return nil, errors.New("router: registry is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("router: gateway is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("router: publisher is required")
	}
	if opts.Registry.MeetingChannel() != "" && opts.Meeting == nil {
		return nil, errors.New("router: meeting channel is configured but no meeting orchestrator was given")
	}
	r := &Router{
		registry:  opts.Registry,
		gateway:   opts.Gateway,
		publisher: opts.Publisher,
		context:   opts.Context,
		store:     opts.Store,
		meeting:   opts.Meeting,
		faults:    opts.Faults,
		fallback:  opts.FallbackToDefault,
		apology:   opts.ApologyFormat,
		storeTTL:  opts.StoreTimeout,
		botUserID: opts.BotUserID,
		logger:    opts.Logger,
	}
	if r.context == nil {
		r.context = ThreadContext{}
	}
	if strings.TrimSpace(r.apology) == "" {
		r.apology = DefaultApologyFormat
	}
	if r.storeTTL <= 0 {
		r.storeTTL = 5 * time.Second
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Handle processes one inbound event to completion.
func (r *Router) Handle(ctx context.Context, msg *bus.InboundMessage) Outcome {
	if msg == nil || r.selfAuthored(msg) {
		return OutcomeIgnored
	}
	logger := r.logger.With("trace_id", msg.TraceID, "channel_id", msg.ChatID)
	threadID := msg.ReplyThread()

	if r.registry.IsMeetingChannel(msg.ChatID) {
		logger.Info("Meeting requested", "thread", threadID)
		r.meeting.Run(ctx, msg.ChatID, threadID, msg.Content)
		return OutcomeMeeting
	}

	p, ok := r.registry.Resolve(msg.ChatID)
	if !ok {
		if !r.fallback {
			logger.Info("No persona bound to channel")
			return OutcomeUnassigned
		}
		p = r.registry.Default()
	}

	turns := r.context.Assemble(ctx, Request{
		ChannelID: msg.ChatID,
		ThreadID:  threadID,
		MessageID: msg.MessageID,
		Text:      msg.Content,
		At:        msg.Timestamp,
	})

	outcome := OutcomeReplied
	text, err := r.gateway.Generate(ctx, p.Instruction, turns)
	if err != nil {
		fault.Report(ctx, r.faults, fault.Fault{
			Kind:      fault.KindGeneration,
			ChannelID: msg.ChatID,
			ThreadID:  threadID,
			Persona:   p.Key,
			Err:       err,
		})
		text = fmt.Sprintf(r.apology, provider.Cause(err))
		outcome = OutcomeApologized
	}

	if err := r.publisher.Reply(ctx, msg.ChatID, threadID, text); err != nil {
		fault.Report(ctx, r.faults, fault.Fault{
			Kind:      fault.KindPublish,
			ChannelID: msg.ChatID,
			ThreadID:  threadID,
			Persona:   p.Key,
			Err:       err,
		})
	}

	r.record(ctx, msg.ChatID, threadID, session.RoleOther, msg.Content)
	if outcome == OutcomeReplied {
		r.record(ctx, msg.ChatID, threadID, session.RoleSelf, text)
	}
	logger.Debug("Inbound handled", "persona", p.Key, "outcome", outcome.String(), "context_turns", len(turns))
	return outcome
}

func (r *Router) selfAuthored(msg *bus.InboundMessage) bool {
	if msg.IsBot || !userSubtypes[msg.Subtype] {
		return true
	}
	if r.botUserID != nil {
		if id := r.botUserID(); id != "" && msg.SenderID == id {
			return true
		}
	}
	return false
}

// record appends one turn to the store. It outlives the caller's
// cancellation but is bounded by the store timeout.
func (r *Router) record(ctx context.Context, channelID, threadID string, role session.Role, text string) {
	if r.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTTL)
	defer cancel()
	if _, err := r.store.AppendTurn(wctx, channelID, threadID, role, text); err != nil {
		fault.Report(wctx, r.faults, fault.Fault{
			Kind:      fault.KindStoreWrite,
			ChannelID: channelID,
			ThreadID:  threadID,
			Err:       err,
		})
	}
}
