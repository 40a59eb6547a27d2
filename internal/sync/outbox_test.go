package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tasksync/tasksync/internal/db"
	"github.com/tasksync/tasksync/internal/schema"
)

func setupOutbox(t *testing.T) (*Outbox, *db.DB) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return NewOutbox(database), database
}

func outboxTask(id int64) *schema.Task {
	return &schema.Task{
		ID:           id,
		Title:        "Write report",
		TaskType:     schema.TaskTypeOneTime,
		ReminderTime: "2026-04-01T10:00:00",
		Active:       true,
	}
}

func TestOutboxCreateTask(t *testing.T) {
	outbox, database := setupOutbox(t)
	ctx := context.Background()

	task := outboxTask(0)
	if err := outbox.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID >= 0 {
		t.Errorf("task id = %d, want a negative local id until the server assigns one", task.ID)
	}

	items, err := database.PendingQueueItems(ctx, 10)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued operation, got %d", len(items))
	}
	if items[0].Operation != schema.OpCreate {
		t.Errorf("operation = %q, want create", items[0].Operation)
	}
	if items[0].EntityID != nil {
		t.Errorf("create must queue without an entity id, got %v", *items[0].EntityID)
	}
	payload, err := items[0].TaskPayload()
	if err != nil {
		t.Fatalf("TaskPayload failed: %v", err)
	}
	if payload.Title != "Write report" {
		t.Errorf("payload title = %q", payload.Title)
	}
	if payload.ID != 0 {
		t.Errorf("payload id = %d, the wire snapshot must not carry the local id", payload.ID)
	}
}

func TestOutboxOfflineCreatesStayDistinct(t *testing.T) {
	outbox, database := setupOutbox(t)
	ctx := context.Background()

	first := outboxTask(0)
	first.Title = "First offline task"
	second := outboxTask(0)
	second.Title = "Second offline task"

	if err := outbox.CreateTask(ctx, first); err != nil {
		t.Fatalf("first CreateTask failed: %v", err)
	}
	if err := outbox.CreateTask(ctx, second); err != nil {
		t.Fatalf("second CreateTask failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("both creates got local id %d", first.ID)
	}

	tasks, err := database.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 cached tasks after two offline creates, got %d", len(tasks))
	}
	titles := map[string]bool{tasks[0].Title: true, tasks[1].Title: true}
	if !titles["First offline task"] || !titles["Second offline task"] {
		t.Errorf("a create overwrote the other: %+v", titles)
	}

	size, err := database.QueueSize(ctx)
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 2 {
		t.Errorf("expected 2 queued creates, got %d", size)
	}
}

func TestOutboxCreateTaskRejectsInvalid(t *testing.T) {
	outbox, database := setupOutbox(t)
	ctx := context.Background()

	task := outboxTask(0)
	task.ReminderTime = ""
	if err := outbox.CreateTask(ctx, task); err == nil {
		t.Fatal("expected validation error")
	}

	size, err := database.QueueSize(ctx)
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 0 {
		t.Errorf("invalid task must not be queued, queue has %d items", size)
	}
}

func TestOutboxCompleteAndUncomplete(t *testing.T) {
	outbox, database := setupOutbox(t)
	ctx := context.Background()

	if err := database.UpsertTask(outboxTask(5)); err != nil {
		t.Fatalf("UpsertTask failed: %v", err)
	}

	if err := outbox.CompleteTask(ctx, 5); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	got, err := database.GetTaskByID(ctx, 5)
	if err != nil {
		t.Fatalf("GetTaskByID failed: %v", err)
	}
	if !got.Completed {
		t.Error("local cache not marked completed")
	}

	if err := outbox.UncompleteTask(ctx, 5); err != nil {
		t.Fatalf("UncompleteTask failed: %v", err)
	}
	got, err = database.GetTaskByID(ctx, 5)
	if err != nil {
		t.Fatalf("GetTaskByID failed: %v", err)
	}
	if got.Completed {
		t.Error("local cache still marked completed")
	}

	items, err := database.PendingQueueItems(ctx, 10)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 queued operations, got %d", len(items))
	}
	if items[0].Operation != schema.OpComplete || items[1].Operation != schema.OpUncomplete {
		t.Errorf("operations = %q, %q", items[0].Operation, items[1].Operation)
	}
	if items[0].OpID == items[1].OpID {
		t.Error("each queued operation needs its own idempotency key")
	}
}

func TestOutboxCompleteUncachedTask(t *testing.T) {
	outbox, _ := setupOutbox(t)

	if err := outbox.CompleteTask(context.Background(), 404); err == nil {
		t.Fatal("expected error completing an uncached task")
	}
}

func TestOutboxDeleteTask(t *testing.T) {
	outbox, database := setupOutbox(t)
	ctx := context.Background()

	if err := database.UpsertTask(outboxTask(3)); err != nil {
		t.Fatalf("UpsertTask failed: %v", err)
	}
	if err := outbox.DeleteTask(ctx, 3); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, err := database.GetTaskByID(ctx, 3); err == nil {
		t.Error("task still cached after delete")
	}

	items, err := database.PendingQueueItems(ctx, 10)
	if err != nil {
		t.Fatalf("PendingQueueItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued operation, got %d", len(items))
	}
	item := items[0]
	if item.Operation != schema.OpDelete {
		t.Errorf("operation = %q, want delete", item.Operation)
	}
	if item.EntityID == nil || *item.EntityID != 3 {
		t.Errorf("entity id = %v, want 3", item.EntityID)
	}
	if len(item.Payload) != 0 {
		t.Errorf("delete must queue without a payload, got %s", item.Payload)
	}
}
