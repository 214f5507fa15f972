package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/councilbot/councilbot/internal/fault"
	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/provider"
	"github.com/councilbot/councilbot/internal/scheduler"
	"github.com/councilbot/councilbot/internal/session"
)

const (
	meetingStartFormat = ":mega: Meeting started. Topic: %s"
	meetingEndText     = ":white_check_mark: Meeting adjourned. Thanks everyone."
)

// meetingStep is one spoken turn; the template's %s receives the topic for
// the first step and the previous step's text for the rest.
type meetingStep struct {
	role     persona.Role
	template string
}

var meetingSteps = []meetingStep{
	{persona.RolePlanner, "Topic: %s\n\nPropose three candidate ideas for this topic. Number them 1 to 3."},
	{persona.RoleDirector, "The planner proposed:\n\n%s\n\nCritique each candidate and select the single best one. State which one you chose."},
	{persona.RoleEditor, "The director selected:\n\n%s\n\nAssess technical feasibility and list concrete concerns for this selection."},
	{persona.RolePlanner, "The editor's assessment:\n\n%s\n\nWrite the final plan, incorporating the feedback above."},
}

// MeetingOptions configures a Meeting orchestrator.
type MeetingOptions struct {
	Registry      *persona.Registry
	Gateway       provider.Gateway
	Publisher     Publisher
	Faults        fault.Reporter
	Pace          time.Duration
	ApologyFormat string
	// Locks serializes meetings per thread. Nil allocates a private set.
	Locks  *scheduler.KeyedMutex
	Logger *slog.Logger
	// Sleep waits between posts. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Meeting runs the fixed Planner, Director, Editor, Planner sequence in a
// thread, each persona answering the one before it.
type Meeting struct {
	gateway   provider.Gateway
	publisher Publisher
	faults    fault.Reporter
	pace      time.Duration
	apology   string
	locks     *scheduler.KeyedMutex
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	moderator persona.Persona
	speakers  []persona.Persona
}

// NewMeeting resolves the meeting personas and builds the orchestrator.
func NewMeeting(opts MeetingOptions) (*Meeting, error) {
	if opts.Registry == nil || opts.Gateway == nil || opts.Publisher == nil {
		return nil, errors.New("meeting: registry, gateway and publisher are required")
	}
	moderator, ok := opts.Registry.ByRole(persona.RoleModerator)
	if !ok {
		return nil, errors.New("meeting: no moderator persona")
	}
	speakers := make([]persona.Persona, len(meetingSteps))
	for i, s := range meetingSteps {
		p, ok := opts.Registry.ByRole(s.role)
		if !ok {
			return nil, fmt.Errorf("meeting: no persona for role %s", s.role)
		}
		speakers[i] = p
	}
	m := &Meeting{
		gateway:   opts.Gateway,
		publisher: opts.Publisher,
		faults:    opts.Faults,
		pace:      opts.Pace,
		apology:   opts.ApologyFormat,
		locks:     opts.Locks,
		logger:    opts.Logger,
		sleep:     opts.Sleep,
		moderator: moderator,
		speakers:  speakers,
	}
	if strings.TrimSpace(m.apology) == "" {
		m.apology = DefaultApologyFormat
	}
	if m.locks == nil {
		m.locks = scheduler.NewKeyedMutex()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}
	return m, nil
}

// Run holds the thread's lock for the whole sequence, so two meetings in
// one thread never interleave. A failed step posts the apology, which then
// feeds the next step. Run returns early only when ctx ends.
func (m *Meeting) Run(ctx context.Context, channelID, threadID, topic string) *session.Meeting {
	unlock := m.locks.Lock(session.Key(channelID, threadID))
	defer unlock()

	logger := m.logger.With("channel_id", channelID, "thread", threadID)
	state := session.NewMeeting(channelID, threadID, topic)

	m.publish(ctx, m.moderator, channelID, threadID, fmt.Sprintf(meetingStartFormat, topic))

	prev := topic
	for i, step := range meetingSteps {
		if err := m.sleep(ctx, m.pace); err != nil {
			logger.Warn("Meeting interrupted", "step", i, "error", err)
			return state
		}
		speaker := m.speakers[i]
		text, err := provider.Prompt(ctx, m.gateway, speaker.Instruction, fmt.Sprintf(step.template, prev))
		if err != nil {
			fault.Report(ctx, m.faults, fault.Fault{
				Kind:      fault.KindGeneration,
				ChannelID: channelID,
				ThreadID:  threadID,
				Persona:   speaker.Key,
				Err:       err,
			})
			text = fmt.Sprintf(m.apology, provider.Cause(err))
		}
		m.publish(ctx, speaker, channelID, threadID, text)
		state.Add(speaker.Key, text)
		prev = text
	}

	if err := m.sleep(ctx, m.pace); err != nil {
		logger.Warn("Meeting interrupted", "step", len(meetingSteps), "error", err)
		return state
	}
	m.publish(ctx, m.moderator, channelID, threadID, meetingEndText)
	logger.Info("Meeting adjourned", "turns", len(state.Entries()), "elapsed", time.Since(state.StartedAt).String())
	return state
}

func (m *Meeting) publish(ctx context.Context, p persona.Persona, channelID, threadID, text string) {
	if err := m.publisher.PublishAs(ctx, p, channelID, threadID, text); err != nil {
		fault.Report(ctx, m.faults, fault.Fault{
			Kind:      fault.KindPublish,
			ChannelID: channelID,
			ThreadID:  threadID,
			Persona:   p.Key,
			Err:       err,
		})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
