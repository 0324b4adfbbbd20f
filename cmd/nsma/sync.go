package main

import (
	"github.com/spf13/cobra"

	"github.com/nsma/nsma/internal/sync"
)

var syncProject string

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull unclassified ideas into prompt files",
	Long: `Pull every Notion item whose status is "Not Started" (or empty) and write
one prompt file per item into pending/ of the owning project.

Items with a blank or unknown project go to the inbox. Each synced item is
moved to "In Progress" in Notion with its phase, effort and file location
filled in. Running sync twice does nothing the second time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.settings.RequireInbox(); err != nil {
			return err
		}

		res, err := a.forward().Run(cmd.Context(), syncProject)
		return a.report("Forward sync", res, err)
	},
}

var reverseCmd = &cobra.Command{
	Use:     "reverse-sync",
	GroupID: "sync",
	Short:   "Push folder moves back to Notion",
	Long: `Scan the prompt trees and update the Notion status of every file whose
folder changed since it was last pushed:

  pending/    -> In Progress
  processed/  -> Done
  archived/   -> Archived
  deferred/   -> Deferred

Only projects with reverse_sync.enabled are scanned unless --project is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		r := a.reverse()
		if syncProject == "" {
			res, err := r.RunAll(cmd.Context())
			return a.report("Reverse sync", res, err)
		}

		p, err := a.store.Get(syncProject)
		if err != nil {
			return err
		}
		res, err := r.Run(cmd.Context(), p)
		return a.report("Reverse sync", res, err)
	},
}

// report prints a run result, including the partial result of a run that
// ended with an error.
func (a *app) report(title string, res *sync.Result, runErr error) error {
	if res != nil {
		if jsonOutput {
			if err := a.printJSON(res); err != nil {
				return err
			}
		} else {
			a.out.Result(title, res)
		}
	}
	return runErr
}

func init() {
	syncCmd.Flags().StringVarP(&syncProject, "project", "p", "", "only sync this project")
	reverseCmd.Flags().StringVarP(&syncProject, "project", "p", "", "only sync this project")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reverseCmd)
}
