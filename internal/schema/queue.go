package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of local mutation recorded in the sync queue.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpComplete   Operation = "complete"
	OpUncomplete Operation = "uncomplete"
	OpDelete     Operation = "delete"
)

// Valid reports whether the operation is one of the known values.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpComplete, OpUncomplete, OpDelete:
		return true
	}
	return false
}

// EntityType identifies which entity a queue item or delta refers to.
type EntityType string

const (
	EntityTask  EntityType = "task"
	EntityGroup EntityType = "group"
	EntityUser  EntityType = "user"
)

// Valid reports whether the entity type is one of the known values.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTask, EntityGroup, EntityUser:
		return true
	}
	return false
}

// QueueStatus is the lifecycle state of a queued operation.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueInFlight QueueStatus = "in_flight"
	QueueFailed   QueueStatus = "failed"
)

// SyncQueueItem is a durable record of one pending local mutation.
//
// Items are created synchronously alongside every optimistic local write and
// consumed in FIFO batches by the sync engine. The entire drained set is
// deleted only after the entire set has been accepted by the server; partial
// batch success never partially clears the queue.
type SyncQueueItem struct {
	// ID is locally assigned and monotonic (queue insertion order).
	ID int64 `json:"id"`

	// OpID is a stable per-operation identity generated at enqueue time and
	// carried through retries. The server deduplicates on it, which makes
	// resubmission after a partially-successful drain safe.
	OpID string `json:"op_id"`

	Operation  Operation  `json:"operation"`
	EntityType EntityType `json:"entity_type"`

	// EntityID is nil only for create operations.
	EntityID *int64 `json:"entity_id"`

	// Payload is a serialized entity snapshot, nil for delete operations.
	Payload json.RawMessage `json:"payload,omitempty"`

	CreatedAt  time.Time   `json:"created_at"`
	RetryCount int         `json:"retry_count"`
	Status     QueueStatus `json:"status"`
	SizeBytes  int         `json:"size_bytes"`
}

// Validate checks the queue item shape before it is persisted.
func (q *SyncQueueItem) Validate() error {
	if !q.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", q.Operation)
	}
	if !q.EntityType.Valid() {
		return fmt.Errorf("invalid entity type %q", q.EntityType)
	}
	if q.Operation != OpCreate && q.EntityID == nil {
		return fmt.Errorf("entity id is required for %s operations", q.Operation)
	}
	if q.Operation != OpDelete && len(q.Payload) == 0 {
		return fmt.Errorf("payload is required for %s operations", q.Operation)
	}
	return nil
}

// TaskPayload deserializes the payload as a task snapshot.
func (q *SyncQueueItem) TaskPayload() (*Task, error) {
	if len(q.Payload) == 0 {
		return nil, fmt.Errorf("queue item %d has no payload", q.ID)
	}
	var task Task
	if err := json.Unmarshal(q.Payload, &task); err != nil {
		return nil, fmt.Errorf("failed to parse payload of queue item %d: %w", q.ID, err)
	}
	return &task, nil
}

// SyncResult is the outcome of one queue-drain pass.
type SyncResult struct {
	SuccessCount  int `json:"success_count"`
	FailureCount  int `json:"failure_count"`
	ConflictCount int `json:"conflict_count"`

	// Tasks is the authoritative task list returned by the server for the
	// drained operations.
	Tasks []*Task `json:"tasks,omitempty"`
}
