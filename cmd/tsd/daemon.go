package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tasksync/tasksync/internal/daemon"
	"github.com/tasksync/tasksync/internal/realtime"
	"github.com/tasksync/tasksync/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the long-lived sync process until interrupted.

The daemon:
  1. Runs a cache sync pass immediately and then periodically
  2. Keeps the realtime push channel open, reconnecting with backoff
  3. Periodically compares per-entity hashes with the server
  4. Optionally ingests task JSON files dropped into an inbox directory`,
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		logger := daemonLogger()
		client := newClient()
		orchestrator := sync.NewOrchestrator(store, client, logger)
		outbox := sync.NewOutbox(store)

		var channel *realtime.Channel
		if url := viper.GetString("realtime_url"); url != "" {
			cfg := realtime.DefaultConfig()
			cfg.URL = url
			cfg.Logger = logger
			channel = realtime.New(cfg, store, orchestrator)
		}

		cfg := daemon.DefaultConfig()
		cfg.Logger = logger
		cfg.SyncInterval = viper.GetDuration("sync_interval")
		cfg.HashCheckInterval = viper.GetDuration("hash_check_interval")
		cfg.InboxDir = viper.GetString("inbox_dir")
		cfg.FetchGroups = viper.GetBool("fetch_groups")
		cfg.FetchUsers = viper.GetBool("fetch_users")

		d, err := daemon.New(orchestrator, channel, outbox, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

// daemonLogger writes to stderr and, when log_file is configured, to a
// size-rotated file as well.
func daemonLogger() *log.Logger {
	var w io.Writer = os.Stderr
	if path := viper.GetString("log_file"); path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
