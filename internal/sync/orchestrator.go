package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tasksync/tasksync/internal/conflict"
	"github.com/tasksync/tasksync/internal/hash"
	"github.com/tasksync/tasksync/internal/schema"
)

// Options configures one cache sync pass.
type Options struct {
	// DrainLimit bounds the queue drain (0 = DefaultDrainLimit).
	DrainLimit int

	// FetchGroups and FetchUsers enable the auxiliary refreshes.
	FetchGroups bool
	FetchUsers  bool
}

// Result reports the outcome of one cache sync pass.
type Result struct {
	// CacheUpdated is true when the task cache was mutated, either by a
	// drain overwrite or by hash-driven reconciliation.
	CacheUpdated bool

	// DrainedOps is the number of queued operations the server accepted.
	DrainedOps int

	// Groups and Users carry whatever auxiliary data was fetched.
	Groups []*schema.Group
	Users  []*schema.User
}

// Orchestrator ties queue draining and full reconciliation together.
type Orchestrator struct {
	store  Store
	client Client
	engine *Engine
	logger *log.Logger
}

// NewOrchestrator creates the top-level reconciliation routine.
// If logger is nil, a default logger writing to stderr is used.
func NewOrchestrator(store Store, client Client, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		store:  store,
		client: client,
		engine: NewEngine(store, client, logger),
		logger: logger,
	}
}

// Engine exposes the underlying queue sync engine.
func (o *Orchestrator) Engine() *Engine {
	return o.engine
}

// SyncCache runs one full reconciliation pass.
//
// The queue is drained first. When the drain accepted at least one
// operation and returned a non-empty task list the cache is already
// authoritative and task reconciliation is skipped. Otherwise (queue empty,
// drain failed, or nothing returned) a hash-compared full reconciliation
// runs. Auxiliary refreshes happen either way; their failures are logged
// and swallowed. Expected failures come back as an error result; panics
// from below are caught at this boundary and converted to an error.
func (o *Orchestrator) SyncCache(ctx context.Context, opts Options) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("cache sync panicked: %v", r)
		}
	}()

	res = &Result{}

	drain, drainErr := o.engine.Drain(ctx, opts.DrainLimit)
	if drainErr != nil {
		o.logger.Printf("Queue drain failed, falling back to full reconciliation: %v", drainErr)
	}
	if drain != nil {
		res.DrainedOps = drain.SuccessCount
	}

	if drainErr == nil && drain.SuccessCount > 0 && len(drain.Tasks) > 0 {
		// The drain already overwrote the cache with the server's state.
		res.CacheUpdated = true
	} else {
		updated, reconcileErr := o.ReconcileTasks(ctx)
		if reconcileErr != nil {
			return res, fmt.Errorf("task reconciliation failed: %w", reconcileErr)
		}
		res.CacheUpdated = updated
	}

	if opts.FetchGroups {
		groups, err := o.client.FetchGroups(ctx)
		if err != nil {
			o.logger.Printf("Warning: group refresh failed: %v", err)
		} else if err := o.store.ReplaceAllGroups(ctx, groups); err != nil {
			o.logger.Printf("Warning: failed to store groups: %v", err)
		} else {
			res.Groups = groups
		}
	}
	if opts.FetchUsers {
		users, err := o.client.FetchUsers(ctx)
		if err != nil {
			o.logger.Printf("Warning: user refresh failed: %v", err)
		} else if err := o.store.ReplaceAllUsers(ctx, users); err != nil {
			o.logger.Printf("Warning: failed to store users: %v", err)
		} else {
			res.Users = users
		}
	}

	if err := o.store.SetLastSyncAt(ctx, time.Now()); err != nil {
		o.logger.Printf("Warning: failed to record sync time: %v", err)
	}

	return res, nil
}

// ReconcileTasks fetches the authoritative task set and overwrites the
// cache when the content digests differ.
//
// The remote set is fetched first; the local digest is only computed once
// that call has succeeded, so a failed network call costs no hashing work.
// On digest mismatch the two sets are merged through set-level conflict
// resolution (local-only tasks survive, server-only tasks are adopted,
// overlapping ids resolve field-group-wise) and the merged set becomes the
// new cache. Also invoked out-of-band by the realtime channel on a
// hash_check mismatch.
func (o *Orchestrator) ReconcileTasks(ctx context.Context) (bool, error) {
	remote, err := o.client.FetchTasks(ctx, false)
	if err != nil {
		return false, fmt.Errorf("failed to fetch tasks: %w", err)
	}

	local, err := o.store.ListTasks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read cached tasks: %w", err)
	}

	if hash.Digest(remote) == hash.Digest(local) {
		return false, nil
	}

	merged := conflict.ResolveSet(local, remote)
	if err := o.store.ReplaceAllTasks(ctx, merged); err != nil {
		return false, fmt.Errorf("failed to overwrite task cache: %w", err)
	}

	o.logger.Printf("Task cache reconciled: %d local, %d remote, %d merged",
		len(local), len(remote), len(merged))
	return true, nil
}

// CheckEntityHashes runs the periodic per-entity hash comparison.
//
// It sends one (entity_type, id, hash) triple per cached task, group and
// user to the hash-check batch endpoint. Reported task differences trigger
// one task reconciliation pass; group or user differences trigger a refresh
// of the respective cache. Returns the number of differences the server
// reported.
func (o *Orchestrator) CheckEntityHashes(ctx context.Context) (int, error) {
	tasks, err := o.store.ListTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read cached tasks: %w", err)
	}
	groups, err := o.store.ListGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read cached groups: %w", err)
	}
	users, err := o.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read cached users: %w", err)
	}

	entries := make([]schema.HashCheckEntry, 0, len(tasks)+len(groups)+len(users))
	for _, t := range tasks {
		entries = append(entries, schema.HashCheckEntry{
			EntityType: schema.EntityTask, ID: t.ID, Hash: hash.TaskHash(t),
		})
	}
	for _, g := range groups {
		entries = append(entries, schema.HashCheckEntry{
			EntityType: schema.EntityGroup, ID: g.ID, Hash: hash.GroupHash(g),
		})
	}
	for _, u := range users {
		entries = append(entries, schema.HashCheckEntry{
			EntityType: schema.EntityUser, ID: u.ID, Hash: hash.UserHash(u),
		})
	}

	diffs, err := o.client.CheckHashes(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("hash check failed: %w", err)
	}
	if len(diffs) == 0 {
		return 0, nil
	}

	var tasksDrifted, groupsDrifted, usersDrifted bool
	for _, d := range diffs {
		switch d.EntityType {
		case schema.EntityTask:
			tasksDrifted = true
		case schema.EntityGroup:
			groupsDrifted = true
		case schema.EntityUser:
			usersDrifted = true
		default:
			o.logger.Printf("Warning: ignoring hash difference for unknown entity type %q", d.EntityType)
		}
	}

	if tasksDrifted {
		if _, err := o.ReconcileTasks(ctx); err != nil {
			return len(diffs), err
		}
	}
	if groupsDrifted {
		groups, err := o.client.FetchGroups(ctx)
		if err != nil {
			o.logger.Printf("Warning: group refresh failed: %v", err)
		} else if err := o.store.ReplaceAllGroups(ctx, groups); err != nil {
			o.logger.Printf("Warning: failed to store groups: %v", err)
		}
	}
	if usersDrifted {
		users, err := o.client.FetchUsers(ctx)
		if err != nil {
			o.logger.Printf("Warning: user refresh failed: %v", err)
		} else if err := o.store.ReplaceAllUsers(ctx, users); err != nil {
			o.logger.Printf("Warning: failed to store users: %v", err)
		}
	}

	return len(diffs), nil
}
