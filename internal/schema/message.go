package schema

import "encoding/json"

// MessageType is the discriminator on inbound realtime messages.
type MessageType string

const (
	// MessageTaskUpdate carries a server-confirmed task delta.
	MessageTaskUpdate MessageType = "task_update"

	// MessageHashCheck carries the server's digest of the full task set.
	MessageHashCheck MessageType = "hash_check"
)

// TaskAction is the action discriminator inside a task_update message.
type TaskAction string

const (
	ActionCreated     TaskAction = "created"
	ActionUpdated     TaskAction = "updated"
	ActionDeleted     TaskAction = "deleted"
	ActionCompleted   TaskAction = "completed"
	ActionUncompleted TaskAction = "uncompleted"
	ActionShown       TaskAction = "shown"
)

// Valid reports whether the action is one of the known values.
// Unknown actions are logged and discarded, never a crash.
func (a TaskAction) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted,
		ActionCompleted, ActionUncompleted, ActionShown:
		return true
	}
	return false
}

// Message is one inbound realtime push message.
//
// task_update carries either a full task payload or a bare id (deleted).
// hash_check carries only DataHash.
type Message struct {
	Type     MessageType `json:"type"`
	Action   TaskAction  `json:"action,omitempty"`
	TaskID   int64       `json:"task_id,omitempty"`
	Task     *Task       `json:"task,omitempty"`
	DataHash string      `json:"data_hash,omitempty"`
}

// ParseMessage decodes a raw realtime frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// HashCheckEntry is one (entity, id, hash) triple sent to the hash-check
// batch endpoint during periodic reconciliation.
type HashCheckEntry struct {
	EntityType EntityType `json:"entity_type"`
	ID         int64      `json:"id"`
	Hash       string     `json:"hash"`
}

// HashDifference is one mismatch reported by the hash-check batch endpoint.
type HashDifference struct {
	EntityType EntityType `json:"entity_type"`
	ID         int64      `json:"id"`
	ServerHash string     `json:"server_hash"`
}
