package sync

import (
	"context"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// Store is the subset of the local store the sync layer depends on.
// *db.DB satisfies it.
type Store interface {
	// Queue access
	PendingQueueItems(ctx context.Context, limit int) ([]*schema.SyncQueueItem, error)
	ClearQueueItems(ctx context.Context, ids []int64) error
	MarkQueueItemsFailed(ctx context.Context, ids []int64) error

	// Task cache
	ListTasks(ctx context.Context) ([]*schema.Task, error)
	ReplaceAllTasks(ctx context.Context, tasks []*schema.Task) error

	// Auxiliary caches
	ReplaceAllGroups(ctx context.Context, groups []*schema.Group) error
	ReplaceAllUsers(ctx context.Context, users []*schema.User) error
	ListGroups(ctx context.Context) ([]*schema.Group, error)
	ListUsers(ctx context.Context) ([]*schema.User, error)

	// Metadata
	SetLastSyncAt(ctx context.Context, t time.Time) error
}

// Client is the subset of the remote API the sync layer depends on.
// *api.Client satisfies it.
type Client interface {
	UploadBatch(ctx context.Context, items []*schema.SyncQueueItem) ([]*schema.Task, error)
	FetchTasks(ctx context.Context, activeOnly bool) ([]*schema.Task, error)
	FetchGroups(ctx context.Context) ([]*schema.Group, error)
	FetchUsers(ctx context.Context) ([]*schema.User, error)
	CheckHashes(ctx context.Context, entries []schema.HashCheckEntry) ([]schema.HashDifference, error)
}
