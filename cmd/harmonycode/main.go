// Command harmonycode runs the collaboration server and the agent-side
// client commands that talk to it over the WebSocket protocol.
package main

import (
	"errors"
	"os"

	"github.com/harmonycode/harmonycode/internal/client"
)

// Exit codes consumed by the external front-end.
const (
	exitOK      = 0
	exitUsage   = 1
	exitAuth    = 2
	exitConnect = 3
)

func main() {
	root := newRootCommand()
	err := root.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	var authErr *client.AuthError
	var connErr *client.ConnectError
	switch {
	case errors.As(err, &authErr):
		os.Exit(exitAuth)
	case errors.As(err, &connErr):
		os.Exit(exitConnect)
	default:
		os.Exit(exitUsage)
	}
}
