// Command nsma syncs a Notion ideas database with local markdown prompt
// trees.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/sync"
	"github.com/nsma/nsma/internal/taxonomy"
	"github.com/nsma/nsma/internal/ui"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "nsma",
	Short: "Sync a Notion ideas database with local prompt files",
	Long: `nsma pulls unclassified ideas from a Notion database, expands them into
markdown prompt files inside each project's prompt tree, and pushes status
changes back to Notion when files move between folders.

Prompt trees hold four folders: pending/, processed/, archived/ and
deferred/. Moving a file between them is how work is marked done.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default ~/.nsma/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "projects", Title: "Project Commands:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		ui.NewPrinter(os.Stderr).Errorf("%s", describe(err))
		os.Exit(exitCode(err))
	}
}

// describe adds a hint to errors the user can fix.
func describe(err error) string {
	switch {
	case errors.Is(err, notion.ErrNoCredential):
		return fmt.Sprintf("%v (set notion.token or %s_NOTION_TOKEN)", err, config.EnvPrefix)
	case notion.IsUnauthorized(err):
		return fmt.Sprintf("%v (check that the token is valid and the database is shared with the integration)", err)
	case errors.Is(err, config.ErrMissingPath):
		return fmt.Sprintf("%v (set inbox_path in settings)", err)
	case project.IsUnknownProject(err):
		return fmt.Sprintf("%v (run 'nsma status' to list projects)", err)
	case errors.Is(err, taxonomy.ErrNoConfigFiles):
		return fmt.Sprintf("%v (add a .nsma-config.md to the project root)", err)
	}
	return err.Error()
}

func exitCode(err error) int {
	switch {
	case sync.IsSyncInProgress(err):
		return 3
	case notion.IsUnauthorized(err):
		return 2
	}
	return 1
}
