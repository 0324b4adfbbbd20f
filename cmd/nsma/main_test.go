package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/sync"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("boom"), 1},
		{&notion.APIError{Status: 401}, 2},
		{fmt.Errorf("reverse sync web: %w", sync.ErrSyncInProgress), 3},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	got := describe(fmt.Errorf("inbox_path: %w", config.ErrMissingPath))
	if !strings.Contains(got, "set inbox_path") {
		t.Errorf("describe() = %q, want a settings hint", got)
	}
	if got := describe(errors.New("plain")); got != "plain" {
		t.Errorf("describe(plain) = %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"sync", "reverse-sync", "import-config", "watch", "status", "select-options", "project"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
