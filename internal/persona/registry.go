package persona

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// File is the on-disk shape of the persona configuration.
type File struct {
	MeetingChannel string                    `yaml:"meetingChannel"`
	DefaultPrompt  string                    `yaml:"defaultPrompt"`
	Channels       map[string]ChannelBinding `yaml:"channels"`
	Profiles       map[string]Profile        `yaml:"profiles"`
}

// ChannelBinding assigns a role and its instruction text to a channel.
type ChannelBinding struct {
	Role         string `yaml:"role"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// Profile is the display identity of a role. SystemPrompt is optional; when
// empty the role's meeting instruction comes from its channel binding.
type Profile struct {
	DisplayName  string `yaml:"displayName"`
	DisplayIcon  string `yaml:"displayIcon"`
	SystemPrompt string `yaml:"systemPrompt,omitempty"`
}

// Registry resolves personas by channel and by role. It is built once at
// startup and never mutated.
type Registry struct {
	byChannel      map[string]Persona
	byRole         map[Role]Persona
	fallback       Persona
	meetingChannel string
}

// New validates a persona file and builds the registry.
func New(f File) (*Registry, error) {
	r := &Registry{
		byChannel:      make(map[string]Persona, len(f.Channels)),
		byRole:         make(map[Role]Persona, len(Roles)),
		meetingChannel: strings.TrimSpace(f.MeetingChannel),
	}

	var errs []error
	profiles := make(map[Role]Profile, len(f.Profiles))
	for name, prof := range f.Profiles {
		role, err := ParseRole(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("profiles: %w", err))
			continue
		}
		profiles[role] = prof
	}

	// Channel ids are visited in sorted order so the first binding of a role
	// is deterministic.
	channelIDs := make([]string, 0, len(f.Channels))
	for id := range f.Channels {
		channelIDs = append(channelIDs, id)
	}
	sort.Strings(channelIDs)

	bindingPrompt := map[Role]string{}
	for _, id := range channelIDs {
		b := f.Channels[id]
		channelID := strings.TrimSpace(id)
		role, err := ParseRole(b.Role)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channelID, err))
			continue
		}
		if !role.Speaks() {
			errs = append(errs, fmt.Errorf("channel %s: role %s cannot be bound to a channel", channelID, role))
			continue
		}
		if strings.TrimSpace(b.SystemPrompt) == "" {
			errs = append(errs, fmt.Errorf("channel %s: systemPrompt is required", channelID))
			continue
		}
		r.byChannel[channelID] = newPersona(role, profiles[role], b.SystemPrompt)
		if _, ok := bindingPrompt[role]; !ok {
			bindingPrompt[role] = b.SystemPrompt
		}
	}

	for _, role := range Roles {
		prof := profiles[role]
		instruction := prof.SystemPrompt
		if strings.TrimSpace(instruction) == "" {
			instruction = bindingPrompt[role]
		}
		if !role.Speaks() {
			instruction = ""
		}
		if role.Speaks() && strings.TrimSpace(instruction) == "" {
			if r.meetingChannel != "" {
				errs = append(errs, fmt.Errorf("role %s: meeting channel is set but the role has no instruction", role))
			}
			continue
		}
		r.byRole[role] = newPersona(role, prof, instruction)
	}

	r.fallback = Persona{
		Key:         DefaultKey,
		DisplayName: "Assistant",
		Instruction: strings.TrimSpace(f.DefaultPrompt),
	}
	if r.fallback.Instruction == "" {
		r.fallback.Instruction = "You are a helpful AI assistant. Answer questions politely."
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func newPersona(role Role, prof Profile, instruction string) Persona {
	name := strings.TrimSpace(prof.DisplayName)
	if name == "" {
		name = string(role)
	}
	return Persona{
		Key:         string(role),
		Role:        role,
		DisplayName: name,
		DisplayIcon: strings.TrimSpace(prof.DisplayIcon),
		Instruction: strings.TrimSpace(instruction),
	}
}

// Resolve returns the persona bound to a channel.
func (r *Registry) Resolve(channelID string) (Persona, bool) {
	p, ok := r.byChannel[channelID]
	return p, ok
}

// Default returns the persona used for channels without a binding.
func (r *Registry) Default() Persona {
	return r.fallback
}

// ByRole returns the meeting persona for a role.
func (r *Registry) ByRole(role Role) (Persona, bool) {
	p, ok := r.byRole[role]
	return p, ok
}

// MeetingChannel returns the designated meeting channel, or "".
func (r *Registry) MeetingChannel() string {
	return r.meetingChannel
}

// IsMeetingChannel reports whether channelID runs the meeting pipeline.
func (r *Registry) IsMeetingChannel(channelID string) bool {
	return r.meetingChannel != "" && channelID == r.meetingChannel
}

// Binding pairs a channel with its persona.
type Binding struct {
	ChannelID string  `json:"channel_id"`
	Persona   Persona `json:"persona"`
}

// Bindings lists channel bindings sorted by channel id.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.byChannel))
	for id, p := range r.byChannel {
		out = append(out, Binding{ChannelID: id, Persona: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}
