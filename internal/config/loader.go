package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".councilbot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every override variable.
	EnvPrefix = "COUNCILBOT"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("COUNCILBOT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("COUNCILBOT_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// bareFallbacks are conventional variable names honored when the prefixed
// form is unset.
var bareFallbacks = []struct {
	name string
	set  func(*Config, string)
}{
	{"SLACK_BOT_TOKEN", func(c *Config, v string) { c.Slack.BotToken = v }},
	{"SLACK_APP_TOKEN", func(c *Config, v string) { c.Slack.AppToken = v }},
	{"GEMINI_API_KEY", func(c *Config, v string) { c.Model.APIKey = v }},
	{"GOOGLE_API_KEY", func(c *Config, v string) { c.Model.APIKey = v }},
}

// Load loads the configuration from env files, the config file and
// environment variables. Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := expandPaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom is Load with an explicit config file, used by --config.
func LoadFrom(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Load()
	}
	cfg := DefaultConfig()
	LoadEnvFileCandidates()
	resolved, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if err := loadFile(resolved, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := expandPaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := loadResolvedConfig(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, fb := range bareFallbacks {
		if v, ok := os.LookupEnv(fb.name); ok && strings.TrimSpace(v) != "" {
			fb.set(cfg, v)
		}
	}
	groups := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "_SLACK", &cfg.Slack},
		{EnvPrefix + "_MODEL", &cfg.Model},
		{EnvPrefix + "_STORE", &cfg.Store},
		{EnvPrefix + "_ROUTING", &cfg.Routing},
		{EnvPrefix + "_MEETING", &cfg.Meeting},
		{EnvPrefix + "_PERSONAS", &cfg.Personas},
		{EnvPrefix + "_KAFKA", &cfg.Kafka},
		{EnvPrefix + "_ADMIN", &cfg.Admin},
		{EnvPrefix + "_LOG", &cfg.Logging},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return fmt.Errorf("env %s_*: %w", g.prefix, err)
		}
	}
	return nil
}

func expandPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.Store.Path, &cfg.Personas.Path} {
		v, err := expandHome(strings.TrimSpace(*p))
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// Save writes the config to ConfigPath with owner-only permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg *Config) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDir creates a directory with owner-only permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads a commented JSON file and substitutes ${VAR}
// references in string values.
func loadResolvedConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	substituteEnvValues(raw)
	return json.Marshal(raw)
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
