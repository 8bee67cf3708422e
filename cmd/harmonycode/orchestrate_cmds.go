package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harmonycode/harmonycode/internal/client"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

func newSwarmCommand(flags *rootFlags) *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "swarm <objective>",
		Short: "Decompose an objective into phased tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			req := protocol.SwarmRequest{
				Objective: strings.Join(args, " "),
				Strategy:  strategy,
			}
			if err := c.Send(protocol.TypeSwarm, req); err != nil {
				return err
			}
			frame, err := c.Expect(protocol.TypeTaskCreated)
			if err != nil {
				return err
			}
			var reply struct {
				Tasks []struct {
					TaskID      string `json:"task_id"`
					Type        string `json:"type"`
					Description string `json:"description"`
				} `json:"tasks"`
			}
			if err := frame.Payload(&reply); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range reply.Tasks {
				fmt.Fprintf(out, "%s  %-13s  %s\n", t.TaskID, t.Type, t.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "development", "decomposition strategy (research, development, analysis)")
	return cmd
}

func newTaskCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	var taskType, priority string
	create := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			data, _ := json.Marshal(map[string]string{
				"type":        taskType,
				"description": strings.Join(args, " "),
				"priority":    priority,
			})
			if err := c.Send(protocol.TypeTask, protocol.TaskRequest{Action: "create", Data: data}); err != nil {
				return err
			}
			frame, err := c.Expect(protocol.TypeTaskCreated)
			if err != nil {
				return err
			}
			var reply struct {
				Task struct {
					TaskID string `json:"task_id"`
					Status string `json:"status"`
				} `json:"task"`
			}
			if err := frame.Payload(&reply); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", reply.Task.TaskID, reply.Task.Status)
			return nil
		},
	}
	create.Flags().StringVar(&taskType, "type", "code", "task type (code, review, design, research, documentation)")
	create.Flags().StringVar(&priority, "priority", "medium", "task priority")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Send(protocol.TypeTask, protocol.TaskRequest{Action: "list"}); err != nil {
				return err
			}
			frame, err := c.Expect(protocol.TypeTaskList)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", frame.Raw)
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newMemoryCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Shared memory operations",
	}

	store := &cobra.Command{
		Use:   "store <key> <json-value>",
		Short: "Store a JSON value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := json.RawMessage(args[1])
			if !json.Valid(value) {
				// treat a bare string argument as a JSON string
				value, _ = json.Marshal(args[1])
			}
			return memoryRoundTrip(cmd, flags, protocol.MemoryRequest{
				Action: "store", Key: args[0], Value: value,
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a stored value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return memoryRoundTrip(cmd, flags, protocol.MemoryRequest{
				Action: "retrieve", Key: args[0],
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Send(protocol.TypeMemory, protocol.MemoryRequest{Action: "list"}); err != nil {
				return err
			}
			frame, err := c.Expect(protocol.TypeMemoryList)
			if err != nil {
				return err
			}
			var reply struct {
				Keys []string `json:"keys"`
			}
			if err := frame.Payload(&reply); err != nil {
				return err
			}
			for _, k := range reply.Keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.AddCommand(store, get, list)
	return cmd
}

func memoryRoundTrip(cmd *cobra.Command, flags *rootFlags, req protocol.MemoryRequest) error {
	_, c, cleanup, err := dial(cmd, flags, "")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.Send(protocol.TypeMemory, req); err != nil {
		return err
	}
	frame, err := c.Expect(protocol.TypeMemoryRetrieved)
	if err != nil {
		return err
	}
	var reply struct {
		Key    string          `json:"key"`
		Value  json.RawMessage `json:"value"`
		Stored bool            `json:"stored"`
	}
	if err := frame.Payload(&reply); err != nil {
		return err
	}
	if reply.Stored {
		fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", reply.Key)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply.Value)
	}
	return nil
}

func newAgentCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Synthetic agent operations",
	}

	var mode, task string
	var count int
	spawn := &cobra.Command{
		Use:   "spawn",
		Short: "Connect synthetic agents and hold their sessions open",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := sparcTaskTypes[mode]; !ok {
				return fmt.Errorf("unknown agent mode %q", mode)
			}
			return runSpawn(cmd, flags, mode, task, count)
		},
	}
	spawn.Flags().StringVar(&mode, "mode", "coder", "agent mode")
	spawn.Flags().StringVar(&task, "task", "", "initial task description for each agent")
	spawn.Flags().IntVar(&count, "count", 3, "number of agents")

	cmd.AddCommand(spawn)
	return cmd
}

func runSpawn(cmd *cobra.Command, flags *rootFlags, mode, task string, count int) error {
	ctx, stop := interruptContext(cmd)
	defer stop()

	if count <= 0 {
		count = 1
	}
	out := cmd.OutOrStdout()
	clients := make([]*client.Client, 0, count)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	for i := 0; i < count; i++ {
		opts := flags.clientOptions(mode)
		opts.DisplayName = fmt.Sprintf("%s-%d", mode, i+1)
		if flags.name != "" {
			opts.DisplayName = fmt.Sprintf("%s-%d", flags.name, i+1)
		}
		c, err := client.Dial(ctx, opts)
		if err != nil {
			return err
		}
		clients = append(clients, c)
		fmt.Fprintf(out, "spawned %s as %s\n", opts.DisplayName, c.Auth.AgentID)

		if task != "" {
			data, _ := json.Marshal(map[string]string{
				"type":        sparcTaskTypes[mode],
				"description": task,
			})
			if err := c.Send(protocol.TypeTask, protocol.TaskRequest{Action: "create", Data: data}); err != nil {
				return err
			}
		}
	}

	// Hold the sessions open; each connection drains its frames so the
	// server never sees a slow consumer.
	for _, c := range clients {
		go func(c *client.Client) {
			for {
				if _, err := c.Read(); err != nil {
					return
				}
			}
		}(c)
	}
	<-ctx.Done()
	return nil
}
