// Package conflict decides which field values survive when the local cache
// and the server disagree about the same task.
//
// Resolution is pure: both entry points are deterministic functions of their
// inputs and never touch storage or the network. Field groups are resolved
// independently, so a server-wins rule on one group holds even when another
// group is locally newer.
package conflict

import (
	"sort"

	"github.com/tasksync/tasksync/internal/schema"
)

// Resolve merges a local and a server version of the same task.
//
// Policies per field group:
//   - completed: last-write-wins by updated_at
//   - reminder_time: server wins unconditionally (the server has already
//     recomputed it from recurrence rules)
//   - recurrence fields (type, interval, interval days): last-write-wins
//   - identity fields (title, description, task type, group, assignees):
//     last-write-wins, taken as a whole group
//
// The result's updated_at is the later of the two inputs.
func Resolve(local, server *schema.Task) *schema.Task {
	out := local.Clone()
	localNewer := local.UpdatedAt.After(server.UpdatedAt)

	if local.Completed != server.Completed && !localNewer {
		out.Completed = server.Completed
	}

	out.ReminderTime = server.ReminderTime

	if recurrenceDiffers(local, server) && !localNewer {
		out.RecurrenceType = server.RecurrenceType
		out.RecurrenceInterval = server.RecurrenceInterval
		out.IntervalDays = server.IntervalDays
	}

	if identityDiffers(local, server) && !localNewer {
		out.Title = server.Title
		out.Description = server.Description
		out.TaskType = server.TaskType
		out.GroupID = server.GroupID
		out.AssignedUserIDs = append([]int64(nil), server.AssignedUserIDs...)
	}

	if server.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = server.UpdatedAt
	}
	return out
}

// ResolveSet reconciles two task sets during hash-driven full
// reconciliation.
//
// A task present only locally is kept (creation outranks deletion), one
// present only on the server is adopted, and tasks present on both sides go
// through Resolve. Local tasks without a server id yet (id <= 0) are always
// kept. The result is ordered by id ascending, unsynced tasks last.
func ResolveSet(local, server []*schema.Task) []*schema.Task {
	localByID := make(map[int64]*schema.Task, len(local))
	var unsynced []*schema.Task
	for _, t := range local {
		if t.ID <= 0 {
			unsynced = append(unsynced, t)
			continue
		}
		localByID[t.ID] = t
	}
	serverByID := make(map[int64]*schema.Task, len(server))
	for _, t := range server {
		serverByID[t.ID] = t
	}

	ids := make([]int64, 0, len(localByID)+len(serverByID))
	for id := range localByID {
		ids = append(ids, id)
	}
	for id := range serverByID {
		if _, ok := localByID[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*schema.Task, 0, len(ids)+len(unsynced))
	for _, id := range ids {
		l, haveLocal := localByID[id]
		s, haveServer := serverByID[id]
		switch {
		case haveLocal && haveServer:
			out = append(out, Resolve(l, s))
		case haveLocal:
			out = append(out, l.Clone())
		default:
			out = append(out, s.Clone())
		}
	}
	for _, t := range unsynced {
		out = append(out, t.Clone())
	}
	return out
}

func recurrenceDiffers(a, b *schema.Task) bool {
	return a.RecurrenceType != b.RecurrenceType ||
		a.RecurrenceInterval != b.RecurrenceInterval ||
		a.IntervalDays != b.IntervalDays
}

func identityDiffers(a, b *schema.Task) bool {
	return a.Title != b.Title ||
		a.Description != b.Description ||
		a.TaskType != b.TaskType ||
		a.GroupID != b.GroupID ||
		!a.SameAssignees(b)
}
