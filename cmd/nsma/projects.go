package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nsma/nsma/internal/audit"
	"github.com/nsma/nsma/internal/config"
	"github.com/nsma/nsma/internal/daemon"
	"github.com/nsma/nsma/internal/notion"
	"github.com/nsma/nsma/internal/project"
	"github.com/nsma/nsma/internal/schema"
	"github.com/nsma/nsma/internal/taxonomy"
)

var (
	importAll       bool
	importSyncNames bool
)

var importConfigCmd = &cobra.Command{
	Use:     "import-config [project]",
	GroupID: "projects",
	Short:   "Import phases and modules from a project's config documents",
	Long: `Parse the config documents of a project (.nsma-config.md, nsma-config.md,
NSMA.md, ARCHITECTURE.md, ROADMAP.md and docs/{architecture,setup,security,api}/*.md)
and store the merged phases and modules in the project registry.

Existing phase and module ids are kept so generated prompts stay stable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importAll == (len(args) == 1) {
			return errors.New("give a project slug or --all")
		}

		a, err := newApp(importSyncNames)
		if err != nil {
			return err
		}
		defer a.Close()

		var options daemon.OptionSyncer
		if a.notion != nil {
			options = a.notion
		}
		r := daemon.NewRefresher(a.store, options, a.refresherSink(), a.logger)

		slugs := args
		if importAll {
			active, err := a.store.Active()
			if err != nil {
				return err
			}
			slugs = slugs[:0]
			for _, p := range active {
				slugs = append(slugs, p.Slug)
			}
		}

		var failed int
		for _, slug := range slugs {
			p, err := r.RefreshConfig(cmd.Context(), slug)
			if err != nil {
				if !importAll {
					return err
				}
				failed++
				a.out.Errorf("%s: %s", slug, describe(err))
				continue
			}
			a.out.Println(fmt.Sprintf("%s: %d phases, %d modules from %s",
				a.out.Styles().Bold.Render(p.Slug), len(p.Phases), len(p.Modules), p.ConfigSource))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d projects failed to import", failed, len(slugs))
		}
		return nil
	},
}

// refresherSink returns the audit log as a daemon.AuditSink.
func (a *app) refresherSink() daemon.AuditSink {
	if a.audit == nil {
		return nil
	}
	return a.audit
}

var (
	addName      string
	addPath      string
	addPrompts   string
	addReverse   bool
	addErrorMode string
	addInactive  bool
	addImport    bool
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "projects",
	Short:   "Manage the project registry",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <slug>",
	Short: "Register or update a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := filepath.Abs(config.ExpandHome(addPath))
		if err != nil {
			return err
		}
		p := &project.Project{
			Slug:        args[0],
			Name:        addName,
			Path:        path,
			PromptsPath: config.ExpandHome(addPrompts),
			Active:      !addInactive,
			ReverseSync: project.ReverseSync{
				Enabled:   addReverse,
				ErrorMode: project.ErrorMode(addErrorMode),
			},
		}
		if p.Name == "" {
			p.Name = p.Slug
		}
		if existing, err := a.store.Get(p.Slug); err == nil {
			// Keep imported state when re-registering.
			p.Taxonomy = existing.Taxonomy
			p.ConfigSource = existing.ConfigSource
			p.LastImportedAt = existing.LastImportedAt
			p.ConfigMtimes = existing.ConfigMtimes
			p.Stats = existing.Stats
		}
		if err := a.store.Save(p); err != nil {
			return err
		}
		if err := schema.EnsureFolders(p.Prompts()); err != nil {
			return err
		}
		a.out.Println(fmt.Sprintf("registered %s (prompts in %s)", p.Slug, p.Prompts()))

		if !addImport {
			return nil
		}
		r := daemon.NewRefresher(a.store, nil, a.refresherSink(), a.logger)
		updated, err := r.RefreshConfig(cmd.Context(), p.Slug)
		switch {
		case errors.Is(err, taxonomy.ErrNoConfigFiles):
			a.logger.Info("no config documents to import yet", zap.String("project", p.Slug))
			return nil
		case err != nil:
			return err
		}
		a.out.Println(fmt.Sprintf("imported %d phases, %d modules", len(updated.Phases), len(updated.Modules)))
		return nil
	},
}

var (
	optionsProperty string
	optionsProject  string
)

var selectOptionsCmd = &cobra.Command{
	Use:     "select-options [values...]",
	GroupID: "projects",
	Short:   "Add missing options to a select property of the ideas database",
	Long: `Make sure every value is an option of a select property. Existing options
keep their order and colours; only new names are added.

With --project and no values, the project's phase names are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		values := args
		if len(values) == 0 {
			if optionsProject == "" {
				return errors.New("give option values or --project")
			}
			p, err := a.store.Get(optionsProject)
			if err != nil {
				return err
			}
			for _, ph := range p.Phases {
				values = append(values, ph.Name)
			}
		}

		added, err := a.notion.SyncSelectOptions(cmd.Context(), "", optionsProperty, values)
		if err != nil {
			return err
		}
		if a.audit != nil {
			_ = a.audit.Append(cmd.Context(), audit.Entry{
				Operation: audit.OpSelectOptions,
				ProjectID: optionsProject,
				Message:   fmt.Sprintf("%s: added %d options", optionsProperty, len(added)),
				Counts:    audit.Counts{Updated: len(added), Skipped: len(values) - len(added)},
				Items:     added,
			})
		}
		if jsonOutput {
			return a.printJSON(map[string]any{"property": optionsProperty, "added": added})
		}
		if len(added) == 0 {
			a.out.Println("all options already present")
			return nil
		}
		for _, name := range added {
			a.out.Println("added " + name)
		}
		return nil
	},
}

func init() {
	importConfigCmd.Flags().BoolVar(&importAll, "all", false, "import every active project")
	importConfigCmd.Flags().BoolVar(&importSyncNames, "sync-options", false, "also add phase names to the Assigned Phase property")

	projectAddCmd.Flags().StringVar(&addName, "name", "", "display name (default: slug)")
	projectAddCmd.Flags().StringVar(&addPath, "path", ".", "project repository root")
	projectAddCmd.Flags().StringVar(&addPrompts, "prompts", "", "prompt tree root (default: <path>/prompts)")
	projectAddCmd.Flags().BoolVar(&addReverse, "reverse-sync", false, "push folder moves back to Notion")
	projectAddCmd.Flags().StringVar(&addErrorMode, "error-mode", "", "what reverse sync does when a Notion page is gone: skip, delete or archive")
	projectAddCmd.Flags().BoolVar(&addInactive, "inactive", false, "register without syncing")
	projectAddCmd.Flags().BoolVar(&addImport, "import", true, "import config documents after registering")
	projectCmd.AddCommand(projectAddCmd)

	selectOptionsCmd.Flags().StringVar(&optionsProperty, "property", notion.PropAssignedPhase, "select property to update")
	selectOptionsCmd.Flags().StringVarP(&optionsProject, "project", "p", "", "use this project's phase names")

	rootCmd.AddCommand(importConfigCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(selectOptionsCmd)
}
