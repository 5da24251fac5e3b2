package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models refportal.yml.
type Config struct {
	Portal struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"portal" json:"portal"`
	Referrals struct {
		NoteMaxLength    int `yaml:"note_max_length" json:"note_max_length"`
		HowKnowMaxLength int `yaml:"how_know_max_length" json:"how_know_max_length"`
	} `yaml:"referrals" json:"referrals"`
	Attachments struct {
		MaxBytes          int64    `yaml:"max_bytes" json:"max_bytes"`
		AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions"`
	} `yaml:"attachments" json:"attachments"`
	Auth struct {
		SessionTTL        string `yaml:"session_ttl" json:"session_ttl"`
		MinPasswordLength int    `yaml:"min_password_length" json:"min_password_length"`
	} `yaml:"auth" json:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type WebhookConfig struct {
	ID             string   `yaml:"id" json:"id"`
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rp config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Portal.Name) == "" {
		return fmt.Errorf("config.portal.name is required")
	}
	if c.Referrals.NoteMaxLength <= 0 {
		return fmt.Errorf("config.referrals.note_max_length must be positive")
	}
	if c.Referrals.HowKnowMaxLength <= 0 {
		return fmt.Errorf("config.referrals.how_know_max_length must be positive")
	}
	if c.Attachments.MaxBytes <= 0 {
		return fmt.Errorf("config.attachments.max_bytes must be positive")
	}
	if len(c.Attachments.AllowedExtensions) == 0 {
		return fmt.Errorf("config.attachments.allowed_extensions is required")
	}
	for _, ext := range c.Attachments.AllowedExtensions {
		if strings.TrimPrefix(strings.TrimSpace(ext), ".") == "" {
			return fmt.Errorf("config.attachments.allowed_extensions contains an empty extension")
		}
	}
	if _, err := c.SessionTTL(); err != nil {
		return err
	}
	if c.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("config.auth.min_password_length must be at least 1")
	}
	seen := map[string]bool{}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http(s)", i)
		}
		if hook.ID != "" {
			if seen[hook.ID] {
				return fmt.Errorf("config.webhooks id %s is duplicated", hook.ID)
			}
			seen[hook.ID] = true
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// SessionTTL parses auth.session_ttl.
func (c *Config) SessionTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("config.auth.session_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config.auth.session_ttl must be positive")
	}
	return d, nil
}

// Extensions returns the allowed attachment extensions lower-cased without dots.
func (c *Config) Extensions() []string {
	out := make([]string, 0, len(c.Attachments.AllowedExtensions))
	for _, ext := range c.Attachments.AllowedExtensions {
		out = append(out, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "refportal.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portalName string) string {
	return fmt.Sprintf(defaultTemplate, portalName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(DefaultPortalName))).Decode(&cfg)
	return &cfg
}

const DefaultPortalName = "Employee Referral Portal"

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Webhooks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `portal:
  name: %q

referrals:
  note_max_length: 500
  how_know_max_length: 500

attachments:
  max_bytes: 10485760
  allowed_extensions: [pdf, doc, docx]

auth:
  session_ttl: 12h
  min_password_length: 6

webhooks: []
`
