package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harmonycode/harmonycode/internal/protocol"
)

// sparcTaskTypes maps a named development mode to the task type its work
// falls under. The keys double as the valid agent modes.
var sparcTaskTypes = map[string]string{
	"coder":      "code",
	"tdd":        "code",
	"debugger":   "code",
	"reviewer":   "review",
	"tester":     "review",
	"analyzer":   "review",
	"architect":  "design",
	"designer":   "design",
	"researcher": "research",
	"documenter": "documentation",
}

func sparcModes() []string {
	modes := make([]string, 0, len(sparcTaskTypes))
	for m := range sparcTaskTypes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newSparcCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sparc <mode> <objective>",
		Short: "Run one agent in a named mode against an objective",
		Long: `sparc connects as an agent in the given mode, creates a matching task
for the objective, claims it, and stays attached to the session so the
front-end can drive the work. Modes: ` + strings.Join(sparcModes(), ", ") + `.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := args[0]
			taskType, ok := sparcTaskTypes[mode]
			if !ok {
				return fmt.Errorf("unknown mode %q (want one of %s)", mode, strings.Join(sparcModes(), ", "))
			}

			ctx, c, cleanup, err := dial(cmd, flags, mode)
			if err != nil {
				return err
			}
			defer cleanup()

			data, _ := json.Marshal(map[string]string{
				"type":        taskType,
				"description": strings.Join(args[1:], " "),
			})
			if err := c.Send(protocol.TypeTask, protocol.TaskRequest{Action: "create", Data: data}); err != nil {
				return err
			}
			created, err := c.Expect(protocol.TypeTaskCreated)
			if err != nil {
				return err
			}
			var reply struct {
				Task struct {
					TaskID     string `json:"task_id"`
					Status     string `json:"status"`
					AssignedTo string `json:"assigned_to"`
				} `json:"task"`
			}
			if err := created.Payload(&reply); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			// Auto-assignment may have routed the task elsewhere; claim it
			// ourselves only while it is still pending.
			if reply.Task.Status == "pending" {
				claim, _ := json.Marshal(map[string]string{"task_id": reply.Task.TaskID})
				if err := c.Send(protocol.TypeTask, protocol.TaskRequest{Action: "claim", Data: claim}); err != nil {
					return err
				}
				if _, err := c.Expect(protocol.TypeTaskAssigned); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s claimed %s\n", c.Auth.AgentID, reply.Task.TaskID)
			} else {
				fmt.Fprintf(out, "%s assigned to %s\n", reply.Task.TaskID, reply.Task.AssignedTo)
			}

			return streamFrames(ctx, c, out)
		},
	}
}
