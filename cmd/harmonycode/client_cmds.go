package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harmonycode/harmonycode/internal/client"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

// dial connects once with the shared flags and an interrupt-aware context.
func dial(cmd *cobra.Command, flags *rootFlags, role string) (context.Context, *client.Client, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	c, err := client.Dial(ctx, flags.clientOptions(role))
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	// Unblock pending reads when the user interrupts.
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	cleanup := func() {
		c.Close()
		stop()
	}
	return ctx, c, cleanup, nil
}

func newRegisterCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register (or re-authenticate) an agent identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if c.Auth.IsReturning {
				fmt.Fprintf(out, "welcome back: %s (sessions: %d)\n", c.Auth.AgentID, c.Auth.TotalSessions)
			} else {
				fmt.Fprintf(out, "registered: %s\n", c.Auth.AgentID)
			}
			return nil
		},
	}
}

func newWhoamiCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity snapshot the server holds for this agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Send(protocol.TypeWhoami, map[string]any{}); err != nil {
				return err
			}
			frame, err := c.Expect(protocol.TypeWhoamiReply)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", frame.Raw)
			return nil
		},
	}
}

func newJoinCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Join the session: stdin lines become chat, frames print to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, c, cleanup, err := dial(cmd, flags, "")
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Fprintf(cmd.OutOrStdout(), "joined as %s\n", c.Auth.AgentID)

			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					text := scanner.Text()
					if text == "" {
						continue
					}
					if err := c.Send(protocol.TypeMessage, protocol.MessageRequest{Text: text}); err != nil {
						return
					}
				}
				c.Close() // stdin closed, end the session
			}()

			return streamFrames(ctx, c, cmd.OutOrStdout())
		},
	}
}

func newMonitorCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print every server frame as a JSON line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, c, cleanup, err := dial(cmd, flags, "analyzer")
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			for {
				frame, err := c.Read()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintf(out, "%s\n", frame.Raw)
			}
		},
	}
}

// streamFrames renders incoming frames until the connection or ctx ends.
func streamFrames(ctx context.Context, c *client.Client, out io.Writer) error {
	for {
		frame, err := c.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return nil // connection closed by stdin EOF or server shutdown
		}
		switch frame.Type {
		case protocol.TypeChat:
			var msg struct {
				Name string `json:"name"`
				Text string `json:"text"`
			}
			frame.Payload(&msg)
			fmt.Fprintf(out, "[%s] %s\n", msg.Name, msg.Text)
		case protocol.TypeIntervention:
			var iv protocol.InterventionFrame
			frame.Payload(&iv)
			fmt.Fprintf(out, "!! %s: %s\n", iv.Kind, iv.RequiredAction)
		case protocol.TypeSessionJoined, protocol.TypeSessionLeft:
			var s struct {
				Name string `json:"name"`
			}
			frame.Payload(&s)
			fmt.Fprintf(out, "-- %s: %s\n", frame.Type, s.Name)
		case protocol.TypeStats:
			// periodic noise, skip
		default:
			fmt.Fprintf(out, "%s\n", frame.Raw)
		}
	}
}
