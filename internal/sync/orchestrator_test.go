package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

func TestSyncCacheDrainSuccessSkipsReconciliation(t *testing.T) {
	store := &fakeStore{queue: queuedOps(5)}
	client := &fakeClient{batchReturns: []*schema.Task{{ID: 1, Title: "synced"}}}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{})
	if err != nil {
		t.Fatalf("SyncCache failed: %v", err)
	}
	if res.DrainedOps != 5 {
		t.Errorf("DrainedOps = %d, want 5", res.DrainedOps)
	}
	if !res.CacheUpdated {
		t.Error("CacheUpdated should be true after a drain overwrite")
	}
	if client.fetchCalls != 0 {
		t.Errorf("full fetch ran %d times, drain already made the cache authoritative", client.fetchCalls)
	}
	if store.lastSyncAt.IsZero() {
		t.Error("last sync time was not recorded")
	}
}

func TestSyncCacheEmptyQueueReconciles(t *testing.T) {
	store := &fakeStore{tasks: []*schema.Task{{ID: 1, Title: "stale", ReminderTime: "2026-01-01T08:00:00"}}}
	client := &fakeClient{remoteTasks: []*schema.Task{{ID: 1, Title: "fresh", ReminderTime: "2026-01-01T08:00:00"}}}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{})
	if err != nil {
		t.Fatalf("SyncCache failed: %v", err)
	}
	if !res.CacheUpdated {
		t.Error("digest mismatch should update the cache")
	}
	if client.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1", client.fetchCalls)
	}
	if len(store.tasks) != 1 || store.tasks[0].Title != "fresh" {
		t.Errorf("cache not reconciled: %+v", store.tasks)
	}
}

func TestSyncCacheDrainReturningNothingFallsThrough(t *testing.T) {
	// All-delete drains return no tasks; the pass still verifies the cache
	// against the server.
	store := &fakeStore{queue: queuedOps(2)}
	client := &fakeClient{}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{})
	if err != nil {
		t.Fatalf("SyncCache failed: %v", err)
	}
	if res.DrainedOps != 2 {
		t.Errorf("DrainedOps = %d, want 2", res.DrainedOps)
	}
	if client.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1 (reconciliation must still run)", client.fetchCalls)
	}
}

func TestSyncCacheDrainFailureFallsBackToReconciliation(t *testing.T) {
	store := &fakeStore{queue: queuedOps(3)}
	client := &fakeClient{
		failOnBatch: 1,
		remoteTasks: []*schema.Task{{ID: 2, Title: "server"}},
	}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{})
	if err != nil {
		t.Fatalf("a failed drain must not fail the pass: %v", err)
	}
	if res.DrainedOps != 0 {
		t.Errorf("DrainedOps = %d, want 0", res.DrainedOps)
	}
	if !res.CacheUpdated {
		t.Error("reconciliation should have updated the cache")
	}
	// Queued local work survives the failed drain untouched.
	if len(store.queue) != 3 {
		t.Errorf("queue has %d items, want 3", len(store.queue))
	}
}

func TestSyncCacheAuxFailuresAreSwallowed(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{
		groupsErr:   errors.New("groups endpoint down"),
		remoteUsers: []*schema.User{{ID: 1, Name: "Ada"}},
	}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{FetchGroups: true, FetchUsers: true})
	if err != nil {
		t.Fatalf("aux failure must not fail the pass: %v", err)
	}
	if res.Groups != nil {
		t.Errorf("failed group fetch should leave Groups nil, got %+v", res.Groups)
	}
	if len(res.Users) != 1 {
		t.Errorf("user fetch should still run: %+v", res.Users)
	}
	if len(store.users) != 1 {
		t.Errorf("user cache not refreshed: %+v", store.users)
	}
}

func TestSyncCacheRecoversFromPanic(t *testing.T) {
	store := &fakeStore{queue: []*schema.SyncQueueItem{nil}} // nil item panics downstream
	client := &fakeClient{}
	orch := NewOrchestrator(store, client, quietLogger())

	res, err := orch.SyncCache(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if res != nil {
		t.Errorf("result should be nil after a panic, got %+v", res)
	}
}

func TestReconcileTasksNoDriftNoWrite(t *testing.T) {
	same := []*schema.Task{{ID: 1, Title: "t", ReminderTime: "2026-01-01T08:00:00", Active: true}}
	store := &fakeStore{tasks: same}
	client := &fakeClient{remoteTasks: same}
	orch := NewOrchestrator(store, client, quietLogger())

	updated, err := orch.ReconcileTasks(context.Background())
	if err != nil {
		t.Fatalf("ReconcileTasks failed: %v", err)
	}
	if updated {
		t.Error("matching digests must not update the cache")
	}
	if store.replaceTasksCalls != 0 {
		t.Errorf("replaceTasksCalls = %d, want 0", store.replaceTasksCalls)
	}
}

func TestReconcileTasksKeepsUnsyncedLocals(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{tasks: []*schema.Task{
		{ID: 1, Title: "shared", ReminderTime: "2026-01-01T08:00:00", UpdatedAt: now},
		{ID: 0, Title: "not yet uploaded", ReminderTime: "2026-01-02T08:00:00", UpdatedAt: now},
	}}
	client := &fakeClient{remoteTasks: []*schema.Task{
		{ID: 1, Title: "shared", ReminderTime: "2026-01-01T09:00:00", UpdatedAt: now.Add(time.Hour)},
		{ID: 2, Title: "server only", ReminderTime: "2026-01-03T08:00:00", UpdatedAt: now},
	}}
	orch := NewOrchestrator(store, client, quietLogger())

	updated, err := orch.ReconcileTasks(context.Background())
	if err != nil {
		t.Fatalf("ReconcileTasks failed: %v", err)
	}
	if !updated {
		t.Fatal("digest mismatch should update the cache")
	}
	if len(store.tasks) != 3 {
		t.Fatalf("merged cache has %d tasks, want 3", len(store.tasks))
	}
	byTitle := make(map[string]bool)
	for _, task := range store.tasks {
		byTitle[task.Title] = true
	}
	if !byTitle["not yet uploaded"] {
		t.Error("unsynced local creation was dropped")
	}
	if !byTitle["server only"] {
		t.Error("server-only task was not adopted")
	}
}

func TestReconcileTasksFetchFailsBeforeLocalRead(t *testing.T) {
	store := &fakeStore{}
	client := &fakeClient{fetchErr: errors.New("offline")}
	orch := NewOrchestrator(store, client, quietLogger())

	updated, err := orch.ReconcileTasks(context.Background())
	if err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if updated {
		t.Error("failed fetch must not report an update")
	}
	if store.replaceTasksCalls != 0 {
		t.Error("failed fetch must not touch the cache")
	}
}

func TestCheckEntityHashes(t *testing.T) {
	store := &fakeStore{
		tasks:  []*schema.Task{{ID: 1, Title: "t", ReminderTime: "2026-01-01T08:00:00"}},
		groups: []*schema.Group{{ID: 1, Name: "old"}},
		users:  []*schema.User{{ID: 1, Name: "Ada"}},
	}
	client := &fakeClient{
		remoteTasks: []*schema.Task{{ID: 1, Title: "t2", ReminderTime: "2026-01-01T08:00:00"}},
		hashDiffs: []schema.HashDifference{
			{EntityType: schema.EntityTask, ID: 1},
			{EntityType: schema.EntityGroup, ID: 1},
		},
		remoteGroups: []*schema.Group{{ID: 1, Name: "renamed"}},
	}
	orch := NewOrchestrator(store, client, quietLogger())

	n, err := orch.CheckEntityHashes(context.Background())
	if err != nil {
		t.Fatalf("CheckEntityHashes failed: %v", err)
	}
	if n != 2 {
		t.Errorf("reported differences = %d, want 2", n)
	}
	if client.fetchCalls != 1 {
		t.Errorf("task drift should trigger one reconciliation, fetchCalls = %d", client.fetchCalls)
	}
	if len(store.groups) != 1 || store.groups[0].Name != "renamed" {
		t.Errorf("group cache not refreshed: %+v", store.groups)
	}
	if store.users[0].Name != "Ada" {
		t.Error("user cache should be untouched when no user drifted")
	}
}

func TestCheckEntityHashesNoDrift(t *testing.T) {
	store := &fakeStore{tasks: []*schema.Task{{ID: 1, Title: "t", ReminderTime: "2026-01-01T08:00:00"}}}
	client := &fakeClient{}
	orch := NewOrchestrator(store, client, quietLogger())

	n, err := orch.CheckEntityHashes(context.Background())
	if err != nil {
		t.Fatalf("CheckEntityHashes failed: %v", err)
	}
	if n != 0 {
		t.Errorf("differences = %d, want 0", n)
	}
	if client.fetchCalls != 0 {
		t.Error("no drift must not trigger a full fetch")
	}
}
