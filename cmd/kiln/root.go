// Command kiln runs generators against the current project: it discovers
// generator files, resolves namespaces, schedules lifecycle work and walks
// every pending file change through conflict resolution before anything
// touches disk.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kiln-dev/kiln/internal/config"
	"github.com/kiln-dev/kiln/internal/conflict"
	"github.com/kiln-dev/kiln/internal/orchestrator"
	"github.com/kiln-dev/kiln/internal/terminal"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

type rootFlags struct {
	cwd         string
	dryRun      bool
	skipInstall bool
	force       bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "kiln",
		Short:         "Generator orchestrator",
		Long:          "kiln discovers, composes and runs code generators in the current project.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.cwd, "cwd", "", "project directory (defaults to the working directory)")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "resolve conflicts but commit nothing")
	cmd.PersistentFlags().BoolVar(&flags.skipInstall, "skip-install", false, "do not run the package manager afterwards")
	cmd.PersistentFlags().BoolVar(&flags.force, "force", false, "overwrite conflicting files without prompting")

	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newDoctorCmd(flags))
	return cmd
}

func (f *rootFlags) projectDir() (string, error) {
	if f.cwd != "" {
		return f.cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("kiln: working directory: %w", err)
	}
	return cwd, nil
}

// newEnv loads the project config and composes an orchestrator environment
// according to the global flags.
func (f *rootFlags) newEnv() (*orchestrator.Env, *config.Config, error) {
	dir, err := f.projectDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	opts := []orchestrator.Option{
		orchestrator.WithDryRun(f.dryRun),
		orchestrator.WithInstall(!f.skipInstall),
	}
	if f.force {
		opts = append(opts, orchestrator.WithAdapter(
			terminal.New(terminal.NonInteractive(conflict.ActionForce))))
	}
	env, err := orchestrator.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return env, cfg, nil
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .kiln directory with a default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := flags.projectDir()
			if err != nil {
				return err
			}
			if err := config.InitKilnDir(dir); err != nil {
				return err
			}
			cmd.Printf("Initialized %s\n", config.KilnProjectDir(dir))
			return nil
		},
	}
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <namespace>...",
		Short: "Run one or more generators",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _, err := flags.newEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			if _, err := env.LookupLocal(); err != nil {
				return err
			}
			summary, err := env.Run(cmd.Context(), args, nil)
			if err != nil {
				if conflict.IsAbort(err) {
					cmd.Println(badStyle.Render("Aborted."))
					return nil
				}
				return err
			}
			cmd.Printf("%d committed, %d skipped, %d identical\n",
				summary.Committed, summary.Skipped, summary.Identical)
			return nil
		},
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discoverable generators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _, err := flags.newEnv()
			if err != nil {
				return err
			}
			defer env.Close()
			found, err := env.LookupLocal()
			if err != nil {
				return err
			}
			if len(found) == 0 {
				cmd.Println("No generators found.")
				return nil
			}
			cmd.Println(headingStyle.Render("Generators"))
			for _, ns := range found {
				line := "  " + ns.Format()
				if meta := env.Registry().Lookup(ns); meta != nil && meta.Sidecar != nil && meta.Sidecar.Description != "" {
					line += dimStyle.Render("  " + meta.Sidecar.Description)
				}
				cmd.Println(line)
			}
			return nil
		},
	}
}

func newDoctorCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the project setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := flags.projectDir()
			if err != nil {
				return err
			}
			report := func(ok bool, msg string) {
				mark := okStyle.Render("ok")
				if !ok {
					mark = badStyle.Render("!!")
				}
				cmd.Printf("%s %s\n", mark, msg)
			}

			cfg, err := config.Load(dir)
			if err != nil {
				report(false, fmt.Sprintf("config: %v", err))
				return nil
			}
			report(true, "config loads and validates")

			if _, err := os.Stat(config.KilnProjectDir(dir)); err != nil {
				report(false, ".kiln directory missing (run `kiln init`)")
			} else {
				report(true, ".kiln directory present")
			}

			env, _, err := flags.newEnv()
			if err != nil {
				report(false, fmt.Sprintf("environment: %v", err))
				return nil
			}
			defer env.Close()
			found, err := env.LookupLocal()
			if err != nil {
				report(false, fmt.Sprintf("discovery: %v", err))
				return nil
			}
			report(true, fmt.Sprintf("%d generators discoverable under %v", len(found), cfg.LookupPrefixes))

			if rules := env.Aliases().Rules(); len(rules) > 0 {
				cmd.Println(headingStyle.Render("Aliases"))
				for _, rule := range rules {
					cmd.Printf("  %s -> %s\n", rule[0], rule[1])
				}
			}
			return nil
		},
	}
}
