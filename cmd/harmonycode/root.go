package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harmonycode/harmonycode/internal/client"
	"github.com/harmonycode/harmonycode/internal/id"
	"github.com/harmonycode/harmonycode/internal/logging"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	project     string
	url         string
	name        string
	role        string
	perspective string
	logLevel    string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "harmonycode",
		Short: "Real-time collaboration server for multiple coding agents",
		Long: `harmonycode runs a collaboration hub where multiple coding agents share
tasks, files, votes, and memory over a JSON WebSocket protocol, with
atomic task claiming and cognitive-diversity enforcement.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup()
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q", flags.logLevel)
			}
			logging.SetLevel(level)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.project, "project", "p", ".", "project directory holding .harmonycode/")
	pf.StringVar(&flags.url, "url", "ws://localhost:8787/ws", "server WebSocket URL")
	pf.StringVar(&flags.name, "name", "", "agent display name (generated when empty)")
	pf.StringVar(&flags.role, "role", "coder", "agent role")
	pf.StringVar(&flags.perspective, "perspective", "", "requested perspective (assigned by the server when empty)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInitCommand(flags),
		newServerCommand(flags),
		newRegisterCommand(flags),
		newWhoamiCommand(flags),
		newJoinCommand(flags),
		newMonitorCommand(flags),
		newSwarmCommand(flags),
		newTaskCommand(flags),
		newMemoryCommand(flags),
		newAgentCommand(flags),
		newSparcCommand(flags),
	)
	return root
}

// clientOptions builds connection options from the shared flags. The display
// name falls back to a generated one so throwaway sessions need no flags.
func (f *rootFlags) clientOptions(role string) client.Options {
	if role == "" {
		role = f.role
	}
	name := f.name
	if name == "" {
		name = id.New(role)
	}
	return client.Options{
		URL:         f.url,
		DisplayName: name,
		Role:        role,
		Perspective: f.perspective,
		Creds:       client.OpenCreds(f.project),
	}
}
