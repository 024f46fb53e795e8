package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RameeshKp/Holostream/internal/config"
)

var (
	cfg          *config.Config
	flagHeadless bool
)

var rootCmd = &cobra.Command{
	Use:   "holostream",
	Short: "Two-party video calls signaled through a shared room directory",
	Long: `Holostream hosts and joins direct video calls. Peers never touch a
media server: offers, answers and ICE candidates travel through a shared
document store, and audio and video flow peer to peer over WebRTC.`,
	Version:           version,
	PersistentPreRunE: initRuntime,
}

func initRuntime(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	c, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(c.LogLevel); err == nil && c.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}
	cfg = c
	return nil
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "use a synthetic capture source instead of the camera")
}
