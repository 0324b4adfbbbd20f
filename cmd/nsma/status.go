package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
)

var (
	statusRecent  int
	statusRecount bool
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "projects",
	Short:   "Show projects, folder counts and recent activity",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		projects, err := a.store.List()
		if err != nil {
			return err
		}
		if statusRecount {
			for i, p := range projects {
				counts, err := schema.CountFolders(p.Prompts())
				if err != nil {
					continue
				}
				if updated, err := a.store.Update(p.Slug, func(p *project.Project) error {
					p.SetCounts(counts, time.Now())
					return nil
				}); err == nil {
					projects[i] = updated
				}
			}
		}

		var entries []audit.Entry
		if a.audit != nil && statusRecent > 0 {
			entries, err = a.audit.List(cmd.Context(), audit.Query{Limit: statusRecent})
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			return a.printJSON(map[string]any{"projects": projects, "recent": entries})
		}
		a.out.Projects(projects)
		if statusRecent > 0 {
			a.out.Println()
			a.out.Audit(entries)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusRecent, "recent", 10, "number of audit entries to show")
	statusCmd.Flags().BoolVar(&statusRecount, "recount", false, "recount prompt folders before printing")
	rootCmd.AddCommand(statusCmd)
}
