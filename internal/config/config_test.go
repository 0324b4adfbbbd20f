package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `notion:
  token: " secret "
  database_id: db-1
ai:
  priority: [gemini, anthropic]
  attempt_timeout: 4m
  gemini:
    api_key: g-key
inbox_path: ` + filepath.Join(dir, "inbox") + `
sync:
  reverse_delay: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("NSMA_AI_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("NSMA_SYNC_SWEEP_INTERVAL", "90s")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", s.Notion.Token)
	assert.Equal(t, "db-1", s.Notion.DatabaseID)
	assert.Equal(t, []string{"gemini", "anthropic"}, s.AI.Priority)
	assert.Equal(t, "g-key", s.AI.Gemini.APIKey)
	assert.Equal(t, "env-key", s.AI.Anthropic.APIKey)
	assert.Equal(t, 4*time.Minute, s.AI.AttemptTimeout)
	assert.Equal(t, 10*time.Minute, s.AI.MaxElapsed)
	assert.Equal(t, filepath.Join(dir, "inbox"), s.InboxPath)
	assert.Equal(t, time.Second, s.Sync.ReverseDelay)
	assert.Equal(t, 90*time.Second, s.Sync.SweepInterval)
	assert.Equal(t, 300*time.Millisecond, s.Sync.ConfigDebounce)
	assert.Equal(t, DefaultSuccessCriteria, s.SuccessCriteria)
	assert.NoError(t, s.RequireInbox())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 350*time.Millisecond, s.Sync.ReverseDelay)
	assert.Equal(t, 5*time.Minute, s.Sync.SweepInterval)
	assert.Equal(t, []string{"anthropic", "gemini", "openai"}, s.AI.Priority)
	assert.Equal(t, 3*time.Minute, s.AI.AttemptTimeout)
	assert.Equal(t, filepath.Join(Dir(), "projects.yaml"), s.ProjectsFile)
}

func TestRequireInbox(t *testing.T) {
	s := &Settings{}
	assert.ErrorIs(t, s.RequireInbox(), ErrMissingPath)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "x", "y"), ExpandHome("~/x/y"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/~/x", ExpandHome("/abs/~/x"))
}
