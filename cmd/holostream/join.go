package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RameeshKp/Holostream/internal/domain"
)

var joinCmd = &cobra.Command{
	Use:   "join <room-code>",
	Short: "Join a hosted call by its room code",
	Long: `Join dials into an active room by the 4-digit code its host shared.

Examples:
  holostream join 4821`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	code := domain.RoomCode(args[0])
	if err := code.Validate(); err != nil {
		return err
	}

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

	if err := sess.Join(ctx, code); err != nil {
		return err
	}
	fmt.Printf("📞 Joined room %s\n", code)
	return runCall(ctx, sess, events)
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
