package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tasksync/tasksync/internal/sync"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operations in upload order",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		items, err := store.PendingQueueItems(context.Background(), sync.DefaultDrainLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(items) == 0 {
			fmt.Println("Queue is empty")
			return
		}

		fmt.Printf("%-6s %-12s %-8s %-10s %-8s %-8s %s\n",
			"ID", "OPERATION", "ENTITY", "ENTITY_ID", "RETRIES", "SIZE", "CREATED")
		for _, item := range items {
			entityID := "-"
			if item.EntityID != nil {
				entityID = fmt.Sprintf("%d", *item.EntityID)
			}
			fmt.Printf("%-6d %-12s %-8s %-10s %-8d %-8d %s\n",
				item.ID,
				item.Operation,
				item.EntityType,
				entityID,
				item.RetryCount,
				item.SizeBytes,
				item.CreatedAt.Local().Format(time.DateTime))
		}
		fmt.Printf("\n%d pending operations\n", len(items))
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(queueCmd)
}
