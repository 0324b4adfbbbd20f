// Package config loads nsma settings with viper: an optional YAML file,
// NSMA_* environment overrides and defaults set in code.
//
// Environment variables map to keys by upper-casing and replacing dots with
// underscores, e.g. NSMA_NOTION_TOKEN overrides notion.token.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "NSMA"

// ErrMissingPath is returned when a required path setting is empty.
var ErrMissingPath = errors.New("required path not configured")

// Settings is the full nsma configuration.
type Settings struct {
	Notion NotionSettings `mapstructure:"notion"`
	AI     AISettings     `mapstructure:"ai"`

	// SuccessCriteria is appended to every generated prompt.
	SuccessCriteria string `mapstructure:"success_criteria"`

	// InboxPath is the prompt tree for items without a known project.
	InboxPath string `mapstructure:"inbox_path"`

	// ProjectsFile is the YAML project registry.
	ProjectsFile string `mapstructure:"projects_file"`

	// AuditDB is the SQLite audit log.
	AuditDB string `mapstructure:"audit_db"`

	Log  LogSettings  `mapstructure:"log"`
	Sync SyncSettings `mapstructure:"sync"`
}

// NotionSettings holds the remote store credentials.
type NotionSettings struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// AISettings configures the provider chain.
type AISettings struct {
	// Priority orders providers by name; earlier entries are tried first.
	Priority []string `mapstructure:"priority"`

	Anthropic ProviderSettings `mapstructure:"anthropic"`
	Gemini    ProviderSettings `mapstructure:"gemini"`
	OpenAI    ProviderSettings `mapstructure:"openai"`

	// AttemptTimeout bounds one provider call. Generations are slow, so this
	// is far longer than the remote store timeout.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`

	// MaxElapsed bounds all attempts against one provider.
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

// ProviderSettings holds one provider's credential and model.
type ProviderSettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SyncSettings tunes the sync engines and the watcher.
type SyncSettings struct {
	// ReverseDelay is the pause between remote writes in reverse sync.
	ReverseDelay time.Duration `mapstructure:"reverse_delay"`

	// SweepInterval is the period of the config change sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	ConfigDebounce time.Duration `mapstructure:"config_debounce"`
	PromptDebounce time.Duration `mapstructure:"prompt_debounce"`
}

// Dir returns the nsma home directory, ~/.nsma.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nsma"
	}
	return filepath.Join(home, ".nsma")
}

func setDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("ai.priority", []string{"anthropic", "gemini", "openai"})
	for _, p := range []string{"anthropic", "gemini", "openai"} {
		v.SetDefault("ai."+p+".api_key", "")
		v.SetDefault("ai."+p+".model", "")
		v.SetDefault("ai."+p+".base_url", "")
	}
	v.SetDefault("ai.attempt_timeout", 3*time.Minute)
	v.SetDefault("ai.max_elapsed", 10*time.Minute)
	v.SetDefault("success_criteria", DefaultSuccessCriteria)
	v.SetDefault("inbox_path", filepath.Join(dir, "inbox"))
	v.SetDefault("projects_file", filepath.Join(dir, "projects.yaml"))
	v.SetDefault("audit_db", filepath.Join(dir, "audit.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("sync.reverse_delay", 350*time.Millisecond)
	v.SetDefault("sync.sweep_interval", 5*time.Minute)
	v.SetDefault("sync.config_debounce", 300*time.Millisecond)
	v.SetDefault("sync.prompt_debounce", 500*time.Millisecond)
}

// DefaultSuccessCriteria is the success criteria section used when none is
// configured.
const DefaultSuccessCriteria = `- [ ] Implementation matches the described behaviour
- [ ] Tests cover the new code paths
- [ ] No regressions in existing tests
- [ ] Documentation updated where behaviour changed`

// Load reads settings from path, or from ~/.nsma/settings.yaml when path is
// empty. A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(Dir(), "settings.yaml")
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize expands ~ in path settings and trims credentials.
func (s *Settings) normalize() {
	s.Notion.Token = strings.TrimSpace(s.Notion.Token)
	s.Notion.DatabaseID = strings.TrimSpace(s.Notion.DatabaseID)
	s.InboxPath = ExpandHome(s.InboxPath)
	s.ProjectsFile = ExpandHome(s.ProjectsFile)
	s.AuditDB = ExpandHome(s.AuditDB)
	s.Log.File = ExpandHome(s.Log.File)

	for i, p := range s.AI.Priority {
		s.AI.Priority[i] = strings.TrimSpace(p)
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// RequireInbox returns ErrMissingPath when no inbox path is configured.
func (s *Settings) RequireInbox() error {
	if strings.TrimSpace(s.InboxPath) == "" {
		return fmt.Errorf("inbox_path: %w", ErrMissingPath)
	}
	return nil
}
