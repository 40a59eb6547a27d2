package sync

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/tasksync/tasksync/internal/schema"
)

const (
	// DefaultDrainLimit bounds how many queued operations one drain reads.
	DefaultDrainLimit = 10000

	// BatchSize is the number of operations uploaded per server call.
	BatchSize = 100
)

// Engine drains the durable sync queue to the server.
type Engine struct {
	store  Store
	client Client
	logger *log.Logger
}

// NewEngine creates a queue sync engine.
// If logger is nil, a default logger writing to stderr is used.
func NewEngine(store Store, client Client, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:  store,
		client: client,
		logger: logger,
	}
}

// Drain uploads up to limit queued operations in FIFO batches.
//
// An empty queue returns a zero-count success without touching the network.
// Batches are uploaded sequentially in submission order; the authoritative
// tasks returned per batch are accumulated. Only after every batch has been
// accepted is the queue cleared and the cache overwritten with the
// accumulated list (the overwrite is skipped when the list is empty, as an
// upload of pure deletes may legitimately return nothing).
//
// Any batch failure aborts the drain: the queue keeps exactly the items it
// held before, apart from bumped retry counts, and the error is returned
// alongside the partial counts.
func (e *Engine) Drain(ctx context.Context, limit int) (*schema.SyncResult, error) {
	if limit <= 0 {
		limit = DefaultDrainLimit
	}

	items, err := e.store.PendingQueueItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}

	result := &schema.SyncResult{}
	if len(items) == 0 {
		return result, nil
	}

	e.logger.Printf("Draining %d queued operations", len(items))

	var returned []*schema.Task
	for start := 0; start < len(items); start += BatchSize {
		end := start + BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		tasks, err := e.client.UploadBatch(ctx, batch)
		if err != nil {
			result.FailureCount = len(items) - result.SuccessCount
			if markErr := e.store.MarkQueueItemsFailed(ctx, itemIDs(items)); markErr != nil {
				e.logger.Printf("Warning: failed to record retry counts: %v", markErr)
			}
			return result, fmt.Errorf("batch upload failed after %d operations: %w", result.SuccessCount, err)
		}

		result.SuccessCount += len(batch)
		returned = append(returned, tasks...)
	}

	// Every batch was accepted; the drained set clears as a whole.
	if err := e.store.ClearQueueItems(ctx, itemIDs(items)); err != nil {
		return result, fmt.Errorf("failed to clear sync queue: %w", err)
	}

	if len(returned) > 0 {
		if err := e.store.ReplaceAllTasks(ctx, returned); err != nil {
			return result, fmt.Errorf("failed to overwrite task cache: %w", err)
		}
	}

	result.Tasks = returned
	e.logger.Printf("Drain complete: %d operations accepted, %d tasks returned",
		result.SuccessCount, len(returned))
	return result, nil
}

func itemIDs(items []*schema.SyncQueueItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
