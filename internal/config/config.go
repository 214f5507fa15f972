// Package config provides configuration types and loading for councilbot.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Slack    SlackConfig    `json:"slack"`
	Model    ModelConfig    `json:"model"`
	Store    StoreConfig    `json:"store"`
	Routing  RoutingConfig  `json:"routing"`
	Meeting  MeetingConfig  `json:"meeting"`
	Personas PersonasConfig `json:"personas"`
	Kafka    KafkaConfig    `json:"kafka"`
	Admin    AdminConfig    `json:"admin"`
	Logging  LoggingConfig  `json:"logging"`
}

// ---------------------------------------------------------------------------
// Slack – chat platform
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack transport.
type SlackConfig struct {
	BotToken       string   `json:"botToken" split_words:"true"`
	AppToken       string   `json:"appToken" split_words:"true"`
	APIBase        string   `json:"apiBase,omitempty" split_words:"true"`
	RequireMention bool     `json:"requireMention" split_words:"true"`
	DedupeTTL      Duration `json:"dedupeTTL" split_words:"true"`
	Debug          bool     `json:"debug,omitempty" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Model – language-model backend
// ---------------------------------------------------------------------------

// ModelConfig selects and bounds the model backend.
type ModelConfig struct {
	Name    string   `json:"name" split_words:"true"`
	APIKey  string   `json:"apiKey" split_words:"true"`
	APIBase string   `json:"apiBase,omitempty" split_words:"true"`
	Timeout Duration `json:"timeout" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Store – persisted turn log
// ---------------------------------------------------------------------------

// StoreConfig locates the turn log.
type StoreConfig struct {
	Path         string   `json:"path" split_words:"true"`
	HistoryLimit int      `json:"historyLimit" split_words:"true"`
	WriteTimeout Duration `json:"writeTimeout" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Routing – single-turn responder
// ---------------------------------------------------------------------------

const (
	// ContextThread rebuilds context from the live chat thread.
	ContextThread = "thread"
	// ContextStore replays context from the persisted turn log.
	ContextStore = "store"
)

// RoutingConfig controls how inbound events are answered. An empty
// ApologyFormat uses the built-in apology.
type RoutingConfig struct {
	ContextSource     string `json:"contextSource" split_words:"true"`
	FallbackToDefault bool   `json:"fallbackToDefault" split_words:"true"`
	MaxConcurrent     int    `json:"maxConcurrent" split_words:"true"`
	ApologyFormat     string `json:"apologyFormat,omitempty" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Meeting – multi-persona sessions
// ---------------------------------------------------------------------------

// MeetingConfig sets the pacing between meeting posts.
type MeetingConfig struct {
	Pace Duration `json:"pace" split_words:"true"`
}

// PersonasConfig locates the persona file. Empty uses the bundled file.
type PersonasConfig struct {
	Path string `json:"path" split_words:"true"`
}

// KafkaConfig enables streaming recovered faults to Kafka.
type KafkaConfig struct {
	Brokers    string `json:"brokers" split_words:"true"`
	AuditTopic string `json:"auditTopic" split_words:"true"`
}

// Enabled reports whether a broker list is configured.
func (k KafkaConfig) Enabled() bool {
	return strings.TrimSpace(k.Brokers) != "" && strings.TrimSpace(k.AuditTopic) != ""
}

// AdminConfig configures the status HTTP server. Empty Addr disables it.
type AdminConfig struct {
	Addr string `json:"addr" split_words:"true"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `json:"level" split_words:"true"`
	Format string `json:"format" split_words:"true"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Slack: SlackConfig{
			RequireMention: true,
			DedupeTTL:      Duration(10 * time.Minute),
		},
		Model: ModelConfig{
			Name:    "gemini-1.5-flash",
			Timeout: Duration(60 * time.Second),
		},
		Store: StoreConfig{
			Path:         "~/.councilbot/turns.db",
			HistoryLimit: 10,
			WriteTimeout: Duration(5 * time.Second),
		},
		Routing: RoutingConfig{
			ContextSource: ContextThread,
			MaxConcurrent: 4,
		},
		Meeting: MeetingConfig{
			Pace: Duration(time.Second),
		},
		Kafka: KafkaConfig{
			AuditTopic: "councilbot.faults",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks what `serve` needs before connecting anywhere.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		errs = append(errs, errors.New("slack bot token is required (SLACK_BOT_TOKEN)"))
	}
	if strings.TrimSpace(c.Slack.AppToken) == "" {
		errs = append(errs, errors.New("slack app-level token is required (SLACK_APP_TOKEN)"))
	}
	if strings.TrimSpace(c.Model.APIKey) == "" {
		errs = append(errs, errors.New("model API key is required (GEMINI_API_KEY)"))
	}
	switch c.Routing.ContextSource {
	case ContextThread:
	case ContextStore:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("routing.contextSource=store requires store.path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown routing.contextSource %q (want %q or %q)", c.Routing.ContextSource, ContextThread, ContextStore))
	}
	if c.Store.HistoryLimit <= 0 {
		errs = append(errs, errors.New("store.historyLimit must be positive"))
	}
	if c.Routing.ApologyFormat != "" && !strings.Contains(c.Routing.ApologyFormat, "%s") {
		errs = append(errs, errors.New("routing.apologyFormat must contain %s for the error cause"))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration written as "1s" in JSON and env values.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}
