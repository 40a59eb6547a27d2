package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// OutboxStore is the subset of the local store the outbox writes through.
// *db.DB satisfies it.
type OutboxStore interface {
	UpsertTaskContext(ctx context.Context, task *schema.Task) error
	DeleteTaskContext(ctx context.Context, id int64) error
	GetTaskByID(ctx context.Context, id int64) (*schema.Task, error)
	NextLocalID(ctx context.Context) (int64, error)
	Enqueue(ctx context.Context, item *schema.SyncQueueItem) error
}

// Outbox records user-originated mutations: each call applies the change to
// the local store and appends the matching operation to the durable queue,
// synchronously from the caller's point of view. The server sees the
// operation on the next drain.
type Outbox struct {
	store OutboxStore
}

// NewOutbox creates an outbox over the local store.
func NewOutbox(store OutboxStore) *Outbox {
	return &Outbox{store: store}
}

// CreateTask stores a not-yet-created task locally and queues a create
// operation.
//
// The task is cached under a negative local id so concurrent offline
// creates stay distinct rows; the queued payload carries id 0 and the
// server's response replaces the local row under the real id on the next
// successful drain.
func (o *Outbox) CreateTask(ctx context.Context, task *schema.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if task.ID == 0 {
		localID, err := o.store.NextLocalID(ctx)
		if err != nil {
			return err
		}
		task.ID = localID
	}
	if err := o.store.UpsertTaskContext(ctx, task); err != nil {
		return err
	}

	wire := task.Clone()
	wire.ID = 0
	return o.enqueueSnapshot(ctx, schema.OpCreate, wire, nil)
}

// UpdateTask stores the new task state locally and queues an update.
func (o *Outbox) UpdateTask(ctx context.Context, task *schema.Task) error {
	task.UpdatedAt = time.Now().UTC()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if err := o.store.UpsertTaskContext(ctx, task); err != nil {
		return err
	}
	return o.enqueueSnapshot(ctx, schema.OpUpdate, task, &task.ID)
}

// CompleteTask marks a cached task completed and queues the operation.
func (o *Outbox) CompleteTask(ctx context.Context, id int64) error {
	return o.setCompleted(ctx, id, true, schema.OpComplete)
}

// UncompleteTask clears the completed flag and queues the operation.
func (o *Outbox) UncompleteTask(ctx context.Context, id int64) error {
	return o.setCompleted(ctx, id, false, schema.OpUncomplete)
}

// DeleteTask removes the task locally and queues a delete (no payload).
func (o *Outbox) DeleteTask(ctx context.Context, id int64) error {
	if err := o.store.DeleteTaskContext(ctx, id); err != nil {
		return err
	}
	return o.store.Enqueue(ctx, &schema.SyncQueueItem{
		Operation:  schema.OpDelete,
		EntityType: schema.EntityTask,
		EntityID:   &id,
	})
}

func (o *Outbox) setCompleted(ctx context.Context, id int64, completed bool, op schema.Operation) error {
	task, err := o.store.GetTaskByID(ctx, id)
	if err != nil {
		return fmt.Errorf("task %d not cached: %w", id, err)
	}
	task.Completed = completed
	task.UpdatedAt = time.Now().UTC()
	if err := o.store.UpsertTaskContext(ctx, task); err != nil {
		return err
	}
	return o.enqueueSnapshot(ctx, op, task, &id)
}

func (o *Outbox) enqueueSnapshot(ctx context.Context, op schema.Operation, task *schema.Task, entityID *int64) error {
	payload, err := task.Snapshot()
	if err != nil {
		return err
	}
	return o.store.Enqueue(ctx, &schema.SyncQueueItem{
		Operation:  op,
		EntityType: schema.EntityTask,
		EntityID:   entityID,
		Payload:    payload,
	})
}
