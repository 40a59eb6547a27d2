package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache and queue status",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		ctx := context.Background()

		taskCount, err := store.TaskCount(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		queueSize, err := store.QueueSize(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		lastSync, err := store.LastSyncAt(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Database: %s\n", viper.GetString("database"))
		fmt.Printf("Server:   %s\n", viper.GetString("server_url"))
		fmt.Printf("Cached tasks:       %d\n", taskCount)
		fmt.Printf("Pending operations: %d\n", queueSize)
		if lastSync.IsZero() {
			fmt.Printf("Last sync:          never\n")
		} else {
			fmt.Printf("Last sync:          %s (%v ago)\n",
				lastSync.Local().Format(time.RFC1123),
				time.Since(lastSync).Round(time.Second))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
