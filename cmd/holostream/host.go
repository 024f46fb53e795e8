package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host a call and print the room code to share",
	Long: `Host creates a room, publishes the call offer and waits for guests.

Examples:
  holostream host
  holostream host --headless`,
	Args: cobra.NoArgs,
	RunE: runHost,
}

func runHost(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	sess := eng.newSession()
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	code, err := sess.Host(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("📞 Room code: %s\n", code)
	return runCall(ctx, sess, events)
}

func init() {
	rootCmd.AddCommand(hostCmd)
}
