package main

import (
	"github.com/spf13/cobra"

	"github.com/nsma/nsma/internal/daemon"
)

var watchSyncOptions bool

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch projects and keep taxonomies current (foreground)",
	Long: `Watch every active project in the foreground.

The watcher:
  1. Re-imports a project's config documents when one of them changes
  2. Refreshes folder counts when prompt files move
  3. Sweeps all projects periodically for changes made while not watching

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(watchSyncOptions)
		if err != nil {
			return err
		}
		defer a.Close()

		var options daemon.OptionSyncer
		if a.notion != nil {
			options = a.notion
		}
		refresher := daemon.NewRefresher(a.store, options, a.refresherSink(), a.logger)
		d := daemon.New(a.store, refresher, daemon.Config{
			Watch: daemon.WatchConfig{
				ConfigDebounce: a.settings.Sync.ConfigDebounce,
				PromptDebounce: a.settings.Sync.PromptDebounce,
			},
			SweepInterval: a.settings.Sync.SweepInterval,
			Logger:        a.logger,
		})

		a.out.Println(a.out.Styles().Title.Render("Watching projects") + "  (Ctrl+C to stop)")
		return d.Start(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchSyncOptions, "sync-options", false, "add new phase names to the Assigned Phase property after each import")
	rootCmd.AddCommand(watchCmd)
}
