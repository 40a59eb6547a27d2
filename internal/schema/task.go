// Package schema provides the data structures shared by the sync engine,
// the local store, and the realtime channel.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReminderTimeLayout is the wire format for reminder timestamps.
// Reminder times are local wall-clock values and carry no timezone.
const ReminderTimeLayout = "2006-01-02T15:04:05"

// TaskType classifies how a task repeats.
type TaskType string

const (
	TaskTypeOneTime   TaskType = "one_time"
	TaskTypeRecurring TaskType = "recurring"
	TaskTypeInterval  TaskType = "interval"
)

// Valid reports whether the task type is one of the known values.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeOneTime, TaskTypeRecurring, TaskTypeInterval:
		return true
	}
	return false
}

// RecurrenceType describes the repeat rule for recurring tasks.
type RecurrenceType string

const (
	RecurrenceDaily    RecurrenceType = "daily"
	RecurrenceWeekly   RecurrenceType = "weekly"
	RecurrenceMonthly  RecurrenceType = "monthly"
	RecurrenceYearly   RecurrenceType = "yearly"
	RecurrenceWeekdays RecurrenceType = "weekdays"
	RecurrenceWeekends RecurrenceType = "weekends"
)

// Valid reports whether the recurrence type is one of the known values.
func (r RecurrenceType) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly,
		RecurrenceYearly, RecurrenceWeekdays, RecurrenceWeekends:
		return true
	}
	return false
}

// Task is the unit of reconciliation between the local cache and the server.
//
// Task identity is the server-assigned ID. A task that has not been created
// server-side yet is cached under a negative local id (its wire snapshot
// carries id 0) and is represented in the sync queue by a create operation
// with a nil entity id; it is replaced under a real id once the server
// responds.
type Task struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	TaskType    TaskType `json:"task_type"`

	// Recurrence fields. RecurrenceType and RecurrenceInterval are required
	// iff TaskType is recurring; IntervalDays is required iff interval.
	RecurrenceType     RecurrenceType `json:"recurrence_type,omitempty"`
	RecurrenceInterval int            `json:"recurrence_interval,omitempty"`
	IntervalDays       int            `json:"interval_days,omitempty"`

	// ReminderTime is always present and parseable (ReminderTimeLayout).
	// Absence is a hard error, never defaulted.
	ReminderTime string `json:"reminder_time"`

	GroupID         int64   `json:"group_id,omitempty"`
	Active          bool    `json:"active"`
	Completed       bool    `json:"completed"`
	AssignedUserIDs []int64 `json:"assigned_user_ids,omitempty"`

	// UpdatedAt is authoritative for conflict ordering.
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks field values and cross-field requirements.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.TaskType.Valid() {
		return fmt.Errorf("invalid task type %q", t.TaskType)
	}
	if t.TaskType == TaskTypeRecurring {
		if !t.RecurrenceType.Valid() {
			return fmt.Errorf("recurring task requires a valid recurrence type (got %q)", t.RecurrenceType)
		}
		if t.RecurrenceInterval <= 0 {
			return fmt.Errorf("recurring task requires a positive recurrence interval (got %d)", t.RecurrenceInterval)
		}
	}
	if t.TaskType == TaskTypeInterval && t.IntervalDays <= 0 {
		return fmt.Errorf("interval task requires positive interval days (got %d)", t.IntervalDays)
	}
	if t.ReminderTime == "" {
		return fmt.Errorf("reminder_time is required")
	}
	if _, err := t.ReminderAt(); err != nil {
		return fmt.Errorf("invalid reminder_time %q: %w", t.ReminderTime, err)
	}
	return nil
}

// ReminderAt parses the reminder timestamp.
func (t *Task) ReminderAt() (time.Time, error) {
	return time.Parse(ReminderTimeLayout, t.ReminderTime)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	out := *t
	if t.AssignedUserIDs != nil {
		out.AssignedUserIDs = append([]int64(nil), t.AssignedUserIDs...)
	}
	return &out
}

// SameAssignees compares assigned user sets ignoring order.
func (t *Task) SameAssignees(other *Task) bool {
	if len(t.AssignedUserIDs) != len(other.AssignedUserIDs) {
		return false
	}
	seen := make(map[int64]int, len(t.AssignedUserIDs))
	for _, id := range t.AssignedUserIDs {
		seen[id]++
	}
	for _, id := range other.AssignedUserIDs {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

// Snapshot serializes the task for use as a queue item payload.
func (t *Task) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot task %d: %w", t.ID, err)
	}
	return data, nil
}

// Group is an auxiliary entity refreshed alongside tasks.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// User is an auxiliary entity refreshed alongside tasks.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}
