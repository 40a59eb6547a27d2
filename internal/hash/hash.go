// Package hash computes content digests over task collections for drift
// detection between the local cache and the server.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tasksync/tasksync/internal/schema"
)

// Digest computes a stable SHA-256 digest over a task collection.
//
// The input is sorted by id ascending before hashing so that two logically
// identical sets produced in different insertion order hash the same.
// The per-task tuple covers id, title, reminder_time, completed and active;
// a change to any of those fields in any task changes the digest.
func Digest(tasks []*schema.Task) string {
	sorted := make([]*schema.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var sb strings.Builder
	for i, t := range sorted {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(taskTuple(t))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// TaskHash computes the per-entity hash used by the hash-check batch
// endpoint.
func TaskHash(t *schema.Task) string {
	sum := sha256.Sum256([]byte(taskTuple(t)))
	return hex.EncodeToString(sum[:])
}

// GroupHash computes the per-entity hash for a group.
func GroupHash(g *schema.Group) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d:%s", g.ID, len(g.Name), g.Name)))
	return hex.EncodeToString(sum[:])
}

// UserHash computes the per-entity hash for a user.
func UserHash(u *schema.User) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d:%s|%d:%s",
		u.ID, len(u.Name), u.Name, len(u.Email), u.Email)))
	return hex.EncodeToString(sum[:])
}

// Free-form string fields are length-prefixed so a delimiter character
// inside a value cannot make two different tuples serialize identically.
func taskTuple(t *schema.Task) string {
	return fmt.Sprintf("%d|%d:%s|%d:%s|%t|%t",
		t.ID, len(t.Title), t.Title,
		len(t.ReminderTime), t.ReminderTime,
		t.Completed, t.Active)
}
