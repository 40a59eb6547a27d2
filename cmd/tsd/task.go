package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tasksync/tasksync/internal/schema"
	"github.com/tasksync/tasksync/internal/sync"
)

var (
	addDescription string
	addTaskType    string
	addReminder    string
	addGroupID     int64
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task locally and queue it for upload",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		task := &schema.Task{
			Title:        args[0],
			Description:  addDescription,
			TaskType:     schema.TaskType(addTaskType),
			ReminderTime: addReminder,
			GroupID:      addGroupID,
			Active:       true,
		}

		withOutbox(func(ctx context.Context, outbox *sync.Outbox) error {
			return outbox.CreateTask(ctx, task)
		})
		fmt.Printf("Queued create for %q (uploads on next sync)\n", task.Title)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a task completed and queue the operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		withOutbox(func(ctx context.Context, outbox *sync.Outbox) error {
			return outbox.CompleteTask(ctx, id)
		})
		fmt.Printf("Queued complete for task %d\n", id)
	},
}

var uncompleteCmd = &cobra.Command{
	Use:   "uncomplete <id>",
	Short: "Clear a task's completed flag and queue the operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		withOutbox(func(ctx context.Context, outbox *sync.Outbox) error {
			return outbox.UncompleteTask(ctx, id)
		})
		fmt.Printf("Queued uncomplete for task %d\n", id)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task locally and queue the operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		withOutbox(func(ctx context.Context, outbox *sync.Outbox) error {
			return outbox.DeleteTask(ctx, id)
		})
		fmt.Printf("Queued delete for task %d\n", id)
	},
}

func withOutbox(fn func(ctx context.Context, outbox *sync.Outbox) error) {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := fn(context.Background(), sync.NewOutbox(store)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid task id %q\n", arg)
		os.Exit(1)
	}
	return id
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "task description")
	addCmd.Flags().StringVarP(&addTaskType, "type", "t", string(schema.TaskTypeOneTime), "task type (one_time, recurring, interval)")
	addCmd.Flags().StringVarP(&addReminder, "reminder", "r", "", "reminder time (2006-01-02T15:04:05, required)")
	addCmd.Flags().Int64VarP(&addGroupID, "group", "g", 0, "group id")
	_ = addCmd.MarkFlagRequired("reminder")

	rootCmd.AddCommand(addCmd, completeCmd, uncompleteCmd, deleteCmd)
}
