package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// executeCLI runs the cobra command tree. It mirrors the legacy
// switch in main.go; each subcommand delegates to the legacy handler
// so both entry points stay behaviorally identical.
func executeCLI() {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Discord persona bot",
		Long:          fmt.Sprintf("%s builds retrieval-backed personas from Discord chat history and speaks as them.", appName),
		Version:       formatVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newOnboardCommand(),
		newConsoleCommand(),
		newGatewayCommand(),
		newStatusCommand(),
		newPersonaCommand(),
		newVersionCommand(),
	)

	return root
}

// runLegacyWithArgs invokes a legacy handler with os.Args rewritten
// so flag parsing inside the handler sees the expected shape.
func runLegacyWithArgs(args []string, fn func()) {
	saved := os.Args
	os.Args = append([]string{saved[0]}, args...)
	defer func() { os.Args = saved }()
	fn()
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Initialize personabot configuration and workspace",
		Run: func(cmd *cobra.Command, args []string) {
			runLegacyWithArgs([]string{"onboard"}, onboard)
		},
	}
}

func newConsoleCommand() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the active persona locally",
		Run: func(cmd *cobra.Command, args []string) {
			legacy := []string{"console"}
			if debug {
				legacy = append(legacy, "--debug")
			}
			runLegacyWithArgs(legacy, consoleCmd)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the Discord gateway",
		Run: func(cmd *cobra.Command, args []string) {
			legacy := []string{"gateway"}
			if debug {
				legacy = append(legacy, "--debug")
			}
			runLegacyWithArgs(legacy, gatewayCmd)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show personabot status",
		Run: func(cmd *cobra.Command, args []string) {
			runLegacyWithArgs([]string{"status"}, statusCmd)
		},
	}
}

func newPersonaCommand() *cobra.Command {
	var guild string

	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Inspect stored personas",
		Run: func(cmd *cobra.Command, args []string) {
			runLegacyWithArgs([]string{"persona"}, personaCmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&guild, "guild", "g", "", "Scope to a guild ID")

	legacySub := func(name, short, usage string) *cobra.Command {
		return &cobra.Command{
			Use:   usage,
			Short: short,
			Run: func(cmd *cobra.Command, args []string) {
				legacy := append([]string{"persona", name}, args...)
				if guild != "" {
					legacy = append(legacy, "--guild", guild)
				}
				runLegacyWithArgs(legacy, personaCmd)
			},
		}
	}

	cmd.AddCommand(
		legacySub("list", "List stored personas", "list"),
		legacySub("show", "Show a persona's style guide and freshness", "show <subject>"),
		legacySub("history", "List archived versions", "history <subject>"),
		legacySub("erase", "Remove a persona, its history and corpus", "erase <subject>"),
	)

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
