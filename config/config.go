package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"channel-digest-bot/channel"
	"channel-digest-bot/scheduler"
	"channel-digest-bot/summarizer"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath     = "./config.yaml"
	defaultSummaryTime    = "周一 09:00"
	defaultTimezone       = "UTC"
	defaultSessionPath    = "./telegram.session"
	defaultPromptPath     = "./prompt.txt"
	defaultCheckpointPath = "./checkpoints.json"
	defaultTitleTemplate  = "【频道周报】{channel_name}"
	defaultLookbackDays   = 7
	defaultMessageLimit   = 500
	defaultProvider       = "gemini"
	defaultDBPath         = "./digest-bot.db"
	defaultLogLevel       = "info"

	// SourceMTProto reads channel history through a signed-in user session.
	SourceMTProto = "mtproto"
	// SourceWeb reads the public t.me/s preview pages.
	SourceWeb = "web"

	// BackendJSON keeps checkpoints in a JSON file.
	BackendJSON = "json"
	// BackendSQLite keeps checkpoints in the settings database.
	BackendSQLite = "sqlite"
)

var apiHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Targets is a list of recipient identifiers. YAML numbers and strings are both
// accepted and kept as strings.
type Targets []string

// UnmarshalYAML normalizes scalar entries to strings.
func (t *Targets) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("push targets must be a list, got %q", node.Value)
	}
	out := make(Targets, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("push target must be a scalar at line %d", item.Line)
		}
		value := strings.TrimSpace(item.Value)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	*t = out
	return nil
}

// Config defines all runtime configuration.
type Config struct {
	TelegramToken   string   `yaml:"telegram_token"`
	AdminIDs        []int64  `yaml:"admin_ids"`
	AlertChatID     int64    `yaml:"alert_chat_id"`
	APIID           int      `yaml:"api_id"`
	APIHash         string   `yaml:"api_hash"`
	SessionPath     string   `yaml:"session_path"`
	Channels        []string `yaml:"channels"`
	SummaryTime     string   `yaml:"summary_time"`
	Timezone        string   `yaml:"timezone"`
	PushGroups      Targets  `yaml:"push_groups"`
	PushUsers       Targets  `yaml:"push_users"`
	TitleTemplate   string   `yaml:"title_template"`
	FooterTemplate  string   `yaml:"footer_template"`
	PromptPath      string   `yaml:"prompt_path"`
	CheckpointPath  string   `yaml:"checkpoint_path"`
	CheckpointStore string   `yaml:"checkpoint_backend"`
	FetchSource     string   `yaml:"fetch_source"`
	LookbackDays    int      `yaml:"lookback_days"`
	MessageLimit    int      `yaml:"message_limit"`
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	AIAPIKey        string   `yaml:"ai_api_key"`
	AIBaseURL       string   `yaml:"ai_base_url"`
	DBPath          string   `yaml:"db_path"`
	LogLevel        string   `yaml:"log_level"`

	// Warnings collects non-fatal problems found while loading.
	Warnings []string `yaml:"-"`
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		SessionPath:     defaultSessionPath,
		SummaryTime:     defaultSummaryTime,
		Timezone:        defaultTimezone,
		TitleTemplate:   defaultTitleTemplate,
		PromptPath:      defaultPromptPath,
		CheckpointPath:  defaultCheckpointPath,
		CheckpointStore: BackendJSON,
		FetchSource:     SourceMTProto,
		LookbackDays:    defaultLookbackDays,
		MessageLimit:    defaultMessageLimit,
		Provider:        defaultProvider,
		DBPath:          defaultDBPath,
		LogLevel:        defaultLogLevel,
	}
}

// Load reads configuration from the path in DIGEST_BOT_CONFIG or the default path.
func Load() (Config, error) {
	path := os.Getenv("DIGEST_BOT_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}

	if override := os.Getenv("DIGEST_BOT_DB"); override != "" {
		cfg.DBPath = override
	}
	if override := os.Getenv("DIGEST_BOT_TOKEN"); override != "" {
		cfg.TelegramToken = override
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Channels = channel.Clean(c.Channels)
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.APIHash = strings.TrimSpace(c.APIHash)
	if c.APIHash != "" && !apiHashPattern.MatchString(c.APIHash) {
		c.Warnings = append(c.Warnings, "api_hash is usually 32 hex characters, got "+strconv.Itoa(len(c.APIHash)))
	}
	if _, err := scheduler.ParseWeekly(c.SummaryTime); err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("summary_time %q invalid (%v), using %q", c.SummaryTime, err, defaultSummaryTime))
		c.SummaryTime = defaultSummaryTime
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = defaultLookbackDays
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = defaultMessageLimit
	}
}

// Validate ensures configuration is complete and valid.
func (c Config) Validate() error {
	if c.TelegramToken == "" {
		return errors.New("telegram_token is required")
	}
	if c.FetchSource != SourceMTProto && c.FetchSource != SourceWeb {
		return fmt.Errorf("fetch_source must be %q or %q: %s", SourceMTProto, SourceWeb, c.FetchSource)
	}
	if c.FetchSource == SourceMTProto {
		if c.APIID <= 0 {
			return errors.New("api_id must be a positive integer")
		}
		if c.APIHash == "" {
			return errors.New("api_hash is required")
		}
		if c.SessionPath == "" {
			return errors.New("session_path must not be empty")
		}
	}
	if len(channel.Clean(c.Channels)) == 0 {
		return errors.New("channels must not be empty")
	}
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if !slices.Contains(summarizer.Providers(), c.Provider) {
		return fmt.Errorf("provider must be one of %s: %s", strings.Join(summarizer.Providers(), ", "), c.Provider)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone must be a valid IANA identifier: %w", err)
	}
	if c.CheckpointStore != BackendJSON && c.CheckpointStore != BackendSQLite {
		return fmt.Errorf("checkpoint_backend must be %q or %q: %s", BackendJSON, BackendSQLite, c.CheckpointStore)
	}
	if c.CheckpointStore == BackendJSON && c.CheckpointPath == "" {
		return errors.New("checkpoint_path must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	return nil
}

// Lookback returns the default fetch window.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// AlertRecipients returns the chats that receive admin alerts.
func (c Config) AlertRecipients() []int64 {
	if c.AlertChatID != 0 {
		return []int64{c.AlertChatID}
	}
	return c.AdminIDs
}
