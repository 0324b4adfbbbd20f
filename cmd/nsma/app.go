package main

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/ai"
	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/content"
	"github.com/nsma/nsma/internal/logging"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/sync"
	"github.com/nsma/nsma/internal/ui"
)

// app holds the collaborators shared by every command.
type app struct {
	settings *config.Settings
	logger   *zap.Logger
	store    *project.Store
	audit    *audit.Log
	guard    *sync.Guard
	out      *ui.Printer

	notion *notion.Client
}

// newApp loads settings and opens the registry and audit log. The Notion
// client is created when needNotion is set.
func newApp(needNotion bool) (*app, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		settings.Log.Level = logLevel
	}

	logger, err := logging.New(settings.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings: settings,
		logger:   logger,
		store:    project.NewStore(settings.ProjectsFile),
		guard:    sync.NewGuard(),
		out:      ui.NewPrinter(os.Stdout),
	}

	a.audit, err = audit.Open(settings.AuditDB)
	if err != nil {
		// Runs proceed without an audit log.
		logger.Warn("audit log unavailable", zap.String("path", settings.AuditDB), zap.Error(err))
		a.audit = nil
	}

	if needNotion {
		a.notion, err = notion.NewClient(settings.Notion.Token, settings.Notion.DatabaseID,
			notion.WithLogger(logger))
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// sink returns the audit log as an AuditSink, or nil when it is closed.
func (a *app) sink() sync.AuditSink {
	if a.audit == nil {
		return nil
	}
	return a.audit
}

func (a *app) forward() *sync.Forward {
	chain := ai.FromSettings(a.settings.AI, a.logger)
	if len(chain.Providers()) == 0 {
		a.logger.Info("no AI provider configured, prompts use the item description")
	}
	return sync.NewForward(a.notion, a.store, content.NewGenerator(chain, a.logger), a.sink(), sync.ForwardOptions{
		InboxPath:       a.settings.InboxPath,
		SuccessCriteria: a.settings.SuccessCriteria,
		Guard:           a.guard,
		Logger:          a.logger,
	})
}

func (a *app) reverse() *sync.Reverse {
	return sync.NewReverse(a.notion, a.store, a.sink(), sync.ReverseOptions{
		WriteDelay: a.settings.Sync.ReverseDelay,
		Guard:      a.guard,
		Logger:     a.logger,
	})
}

// printJSON writes v to stdout as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Close releases the audit log and flushes the logger.
func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit log", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
