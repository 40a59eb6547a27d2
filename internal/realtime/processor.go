// Package realtime maintains the persistent push connection to the server
// and applies server-confirmed deltas directly to the local store,
// independent of the sync queue.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/tasksync/tasksync/internal/schema"
)

// Store is the subset of the local store the realtime path writes through.
// *db.DB satisfies it.
type Store interface {
	UpsertTaskContext(ctx context.Context, task *schema.Task) error
	DeleteTaskContext(ctx context.Context, id int64) error
	MergeTaskStatus(ctx context.Context, task *schema.Task) error
	SetTaskCompleted(ctx context.Context, id int64, completed bool) error
	ListTasks(ctx context.Context) ([]*schema.Task, error)

	UpsertGroup(ctx context.Context, g *schema.Group) error
	DeleteGroup(ctx context.Context, id int64) error
	UpsertUser(ctx context.Context, u *schema.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// Processor maps generic (action, entity type, entity id, payload) deltas
// onto local store mutations. The realtime channel feeds it
// server-confirmed task updates; any other delta source can use it the same
// way.
type Processor struct {
	store  Store
	logger *log.Logger
}

// NewProcessor creates an event processor over the local store.
// If logger is nil, a default logger writing to stderr is used.
func NewProcessor(store Store, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	return &Processor{store: store, logger: logger}
}

// Apply maps one delta onto the store.
//
// Deltas arriving here are already server-confirmed, so they bypass the
// sync queue entirely. Unknown actions are logged and ignored.
func (p *Processor) Apply(ctx context.Context, action schema.TaskAction, entityType schema.EntityType, entityID int64, payload json.RawMessage) error {
	switch entityType {
	case schema.EntityTask:
		return p.applyTask(ctx, action, entityID, payload)
	case schema.EntityGroup:
		return p.applyGroup(ctx, action, entityID, payload)
	case schema.EntityUser:
		return p.applyUser(ctx, action, entityID, payload)
	default:
		p.logger.Printf("Ignoring delta for unknown entity type %q", entityType)
		return nil
	}
}

// ApplyTaskUpdate maps one realtime task_update message onto the store.
func (p *Processor) ApplyTaskUpdate(ctx context.Context, msg *schema.Message) error {
	var payload json.RawMessage
	entityID := msg.TaskID
	if msg.Task != nil {
		data, err := msg.Task.Snapshot()
		if err != nil {
			return err
		}
		payload = data
		if entityID == 0 {
			entityID = msg.Task.ID
		}
	}
	return p.Apply(ctx, msg.Action, schema.EntityTask, entityID, payload)
}

func (p *Processor) applyTask(ctx context.Context, action schema.TaskAction, id int64, payload json.RawMessage) error {
	task, err := decodeTask(payload)
	if err != nil {
		return err
	}

	switch action {
	case schema.ActionCreated, schema.ActionUpdated:
		if task == nil {
			return fmt.Errorf("%s delta for task %d has no payload", action, id)
		}
		return p.store.UpsertTaskContext(ctx, task)

	case schema.ActionDeleted:
		if id == 0 && task != nil {
			id = task.ID
		}
		if id == 0 {
			return fmt.Errorf("deleted delta carries no task id")
		}
		return p.store.DeleteTaskContext(ctx, id)

	case schema.ActionCompleted, schema.ActionUncompleted, schema.ActionShown:
		// Status deltas merge only status-relevant fields; a full payload
		// falls back to a wholesale insert when nothing is cached.
		if task != nil {
			return p.store.MergeTaskStatus(ctx, task)
		}
		if action == schema.ActionShown {
			p.logger.Printf("Ignoring bare shown delta for task %d", id)
			return nil
		}
		return p.store.SetTaskCompleted(ctx, id, action == schema.ActionCompleted)

	default:
		p.logger.Printf("Ignoring unknown task action %q", action)
		return nil
	}
}

func (p *Processor) applyGroup(ctx context.Context, action schema.TaskAction, id int64, payload json.RawMessage) error {
	switch action {
	case schema.ActionCreated, schema.ActionUpdated:
		var g schema.Group
		if err := json.Unmarshal(payload, &g); err != nil {
			return fmt.Errorf("failed to parse group payload: %w", err)
		}
		return p.store.UpsertGroup(ctx, &g)
	case schema.ActionDeleted:
		return p.store.DeleteGroup(ctx, id)
	default:
		p.logger.Printf("Ignoring unknown group action %q", action)
		return nil
	}
}

func (p *Processor) applyUser(ctx context.Context, action schema.TaskAction, id int64, payload json.RawMessage) error {
	switch action {
	case schema.ActionCreated, schema.ActionUpdated:
		var u schema.User
		if err := json.Unmarshal(payload, &u); err != nil {
			return fmt.Errorf("failed to parse user payload: %w", err)
		}
		return p.store.UpsertUser(ctx, &u)
	case schema.ActionDeleted:
		return p.store.DeleteUser(ctx, id)
	default:
		p.logger.Printf("Ignoring unknown user action %q", action)
		return nil
	}
}

func decodeTask(payload json.RawMessage) (*schema.Task, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var task schema.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("failed to parse task payload: %w", err)
	}
	return &task, nil
}
