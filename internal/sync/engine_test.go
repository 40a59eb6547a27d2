package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// fakeStore is an in-memory Store for engine and orchestrator tests.
type fakeStore struct {
	queue  []*schema.SyncQueueItem
	tasks  []*schema.Task
	groups []*schema.Group
	users  []*schema.User

	lastSyncAt time.Time

	replaceTasksCalls int
	markFailedCalls   int
	clearCalls        int

	replaceTasksErr error
}

func (s *fakeStore) PendingQueueItems(_ context.Context, limit int) ([]*schema.SyncQueueItem, error) {
	if limit > len(s.queue) {
		limit = len(s.queue)
	}
	out := make([]*schema.SyncQueueItem, limit)
	copy(out, s.queue[:limit])
	return out, nil
}

func (s *fakeStore) ClearQueueItems(_ context.Context, ids []int64) error {
	s.clearCalls++
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*schema.SyncQueueItem
	for _, item := range s.queue {
		if !drop[item.ID] {
			kept = append(kept, item)
		}
	}
	s.queue = kept
	return nil
}

func (s *fakeStore) MarkQueueItemsFailed(_ context.Context, ids []int64) error {
	s.markFailedCalls++
	mark := make(map[int64]bool, len(ids))
	for _, id := range ids {
		mark[id] = true
	}
	for _, item := range s.queue {
		if mark[item.ID] {
			item.Status = schema.QueueFailed
			item.RetryCount++
		}
	}
	return nil
}

func (s *fakeStore) ListTasks(context.Context) ([]*schema.Task, error) { return s.tasks, nil }

func (s *fakeStore) ReplaceAllTasks(_ context.Context, tasks []*schema.Task) error {
	s.replaceTasksCalls++
	if s.replaceTasksErr != nil {
		return s.replaceTasksErr
	}
	s.tasks = tasks
	return nil
}

func (s *fakeStore) ReplaceAllGroups(_ context.Context, groups []*schema.Group) error {
	s.groups = groups
	return nil
}

func (s *fakeStore) ReplaceAllUsers(_ context.Context, users []*schema.User) error {
	s.users = users
	return nil
}

func (s *fakeStore) ListGroups(context.Context) ([]*schema.Group, error) { return s.groups, nil }
func (s *fakeStore) ListUsers(context.Context) ([]*schema.User, error)   { return s.users, nil }

func (s *fakeStore) SetLastSyncAt(_ context.Context, t time.Time) error {
	s.lastSyncAt = t
	return nil
}

// fakeClient is a scriptable Client for engine and orchestrator tests.
type fakeClient struct {
	batches      [][]*schema.SyncQueueItem
	failOnBatch  int // 1-based batch index that fails; 0 = never
	batchReturns []*schema.Task

	remoteTasks  []*schema.Task
	fetchErr     error
	fetchCalls   int
	remoteGroups []*schema.Group
	groupsErr    error
	remoteUsers  []*schema.User
	usersErr     error

	hashDiffs []schema.HashDifference
	hashErr   error
}

func (c *fakeClient) UploadBatch(_ context.Context, items []*schema.SyncQueueItem) ([]*schema.Task, error) {
	c.batches = append(c.batches, items)
	if c.failOnBatch > 0 && len(c.batches) == c.failOnBatch {
		return nil, errors.New("server unavailable")
	}
	return c.batchReturns, nil
}

func (c *fakeClient) FetchTasks(context.Context, bool) ([]*schema.Task, error) {
	c.fetchCalls++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.remoteTasks, nil
}

func (c *fakeClient) FetchGroups(context.Context) ([]*schema.Group, error) {
	return c.remoteGroups, c.groupsErr
}

func (c *fakeClient) FetchUsers(context.Context) ([]*schema.User, error) {
	return c.remoteUsers, c.usersErr
}

func (c *fakeClient) CheckHashes(context.Context, []schema.HashCheckEntry) ([]schema.HashDifference, error) {
	return c.hashDiffs, c.hashErr
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func queuedOps(n int) []*schema.SyncQueueItem {
	items := make([]*schema.SyncQueueItem, n)
	for i := range items {
		items[i] = &schema.SyncQueueItem{
			ID:         int64(i + 1),
			OpID:       fmt.Sprintf("op-%04d", i+1),
			Operation:  schema.OpCreate,
			EntityType: schema.EntityTask,
			Status:     schema.QueuePending,
		}
	}
	return items
}

func TestDrainEmptyQueueSkipsNetwork(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{}
	engine := NewEngine(store, client, quietLogger())

	result, err := engine.Drain(context.Background(), 0)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.SuccessCount != 0 || result.FailureCount != 0 {
		t.Errorf("expected zero counts, got %+v", result)
	}
	if len(client.batches) != 0 {
		t.Errorf("empty queue must not touch the network, saw %d uploads", len(client.batches))
	}
}

func TestDrainBatchesInOrder(t *testing.T) {
	store := &fakeStore{queue: queuedOps(250)}
	client := &fakeClient{batchReturns: []*schema.Task{{ID: 1, Title: "t"}}}
	engine := NewEngine(store, client, quietLogger())

	result, err := engine.Drain(context.Background(), 0)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.SuccessCount != 250 {
		t.Errorf("SuccessCount = %d, want 250", result.SuccessCount)
	}

	if len(client.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(client.batches))
	}
	wantSizes := []int{100, 100, 50}
	nextID := int64(1)
	for i, batch := range client.batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d has %d items, want %d", i, len(batch), wantSizes[i])
		}
		for _, item := range batch {
			if item.ID != nextID {
				t.Fatalf("batch %d out of submission order: got id %d, want %d", i, item.ID, nextID)
			}
			nextID++
		}
	}

	if len(store.queue) != 0 {
		t.Errorf("queue should be empty after full drain, has %d items", len(store.queue))
	}
}

func TestDrainRespectsLimit(t *testing.T) {
	store := &fakeStore{queue: queuedOps(30)}
	client := &fakeClient{}
	engine := NewEngine(store, client, quietLogger())

	result, err := engine.Drain(context.Background(), 10)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.SuccessCount != 10 {
		t.Errorf("SuccessCount = %d, want 10", result.SuccessCount)
	}
	if len(store.queue) != 20 {
		t.Errorf("queue should keep 20 items beyond the limit, has %d", len(store.queue))
	}
}

func TestDrainOverwritesCacheWithReturnedTasks(t *testing.T) {
	store := &fakeStore{
		queue: queuedOps(3),
		tasks: []*schema.Task{{ID: 99, Title: "stale"}},
	}
	client := &fakeClient{batchReturns: []*schema.Task{
		{ID: 1, Title: "fresh"}, {ID: 2, Title: "fresh"},
	}}
	engine := NewEngine(store, client, quietLogger())

	result, err := engine.Drain(context.Background(), 0)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(result.Tasks) != 2 {
		t.Errorf("expected 2 returned tasks, got %d", len(result.Tasks))
	}
	if len(store.tasks) != 2 || store.tasks[0].Title != "fresh" {
		t.Errorf("cache was not overwritten: %+v", store.tasks)
	}
}

func TestDrainSkipsOverwriteWhenNothingReturned(t *testing.T) {
	// Pure deletes come back as an empty array; a stale cache must not be
	// wiped in response.
	store := &fakeStore{
		queue: queuedOps(2),
		tasks: []*schema.Task{{ID: 1, Title: "keep me"}},
	}
	client := &fakeClient{}
	engine := NewEngine(store, client, quietLogger())

	if _, err := engine.Drain(context.Background(), 0); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if store.replaceTasksCalls != 0 {
		t.Error("empty server response must not overwrite the cache")
	}
	if len(store.tasks) != 1 {
		t.Errorf("cache was mutated: %+v", store.tasks)
	}
}

func TestDrainFailureLeavesQueueIntact(t *testing.T) {
	store := &fakeStore{queue: queuedOps(250)}
	client := &fakeClient{failOnBatch: 2}
	engine := NewEngine(store, client, quietLogger())

	result, err := engine.Drain(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error from failed batch")
	}
	if result.SuccessCount != 100 {
		t.Errorf("SuccessCount = %d, want 100 (first batch)", result.SuccessCount)
	}
	if result.FailureCount != 150 {
		t.Errorf("FailureCount = %d, want 150 (remaining)", result.FailureCount)
	}

	// Accepted batches are NOT cleared individually; the whole drained set
	// stays queued, so the server-side idempotency keys get a second chance.
	if store.clearCalls != 0 {
		t.Error("queue must not be cleared on a failed drain")
	}
	if len(store.queue) != 250 {
		t.Errorf("queue has %d items, want 250", len(store.queue))
	}
	if store.markFailedCalls != 1 {
		t.Errorf("markFailedCalls = %d, want 1", store.markFailedCalls)
	}
	for _, item := range store.queue {
		if item.RetryCount != 1 || item.Status != schema.QueueFailed {
			t.Fatalf("item %d not marked for retry: %+v", item.ID, item)
		}
	}
	if store.replaceTasksCalls != 0 {
		t.Error("cache must not be touched on a failed drain")
	}
}
