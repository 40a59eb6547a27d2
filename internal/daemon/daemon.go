// Package daemon runs the long-lived sync process: the realtime channel,
// periodic cache reconciliation, periodic per-entity hash checks, and an
// optional inbox directory where dropped task JSON files are ingested into
// the outbox.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tasksync/tasksync/internal/realtime"
	"github.com/tasksync/tasksync/internal/schema"
	"github.com/tasksync/tasksync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a full cache sync pass.
	SyncInterval time.Duration

	// HashCheckInterval is how often to run the per-entity hash comparison.
	// Zero disables it.
	HashCheckInterval time.Duration

	// InboxDir, when set, is watched for dropped task JSON files.
	InboxDir string

	// DebounceInterval is how long to wait before processing inbox file
	// changes. This batches rapid writes together.
	DebounceInterval time.Duration

	// FetchGroups and FetchUsers enable auxiliary refreshes on each pass.
	FetchGroups bool
	FetchUsers  bool

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:      30 * time.Second,
		HashCheckInterval: 5 * time.Minute,
		DebounceInterval:  200 * time.Millisecond,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the realtime channel, periodic syncs, and inbox
// ingestion.
type Daemon struct {
	orchestrator *sync.Orchestrator
	channel      *realtime.Channel
	outbox       *sync.Outbox
	config       *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued-at
	changeQueueMu stdsync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a daemon. The realtime channel may be nil when push delivery
// is disabled.
func New(orchestrator *sync.Orchestrator, channel *realtime.Channel, outbox *sync.Outbox, config *Config) (*Daemon, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	var watcher *fsnotify.Watcher
	if config.InboxDir != "" {
		if outbox == nil {
			return nil, fmt.Errorf("inbox ingestion requires an outbox")
		}
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create inbox watcher: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		orchestrator: orchestrator,
		channel:      channel,
		outbox:       outbox,
		config:       config,
		watcher:      watcher,
		changeQueue:  make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation and blocks until ctx is cancelled.
//
// Startup sequence: one immediate cache sync, then the realtime channel,
// then the periodic loops and the inbox watcher.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.orchestrator.SyncCache(d.ctx, d.syncOptions()); err != nil {
		// Offline startup is normal; the periodic loop retries.
		d.config.Logger.Printf("Initial sync failed (will retry): %v", err)
	}

	if d.channel != nil {
		d.channel.Start()
	}

	d.wg.Add(1)
	go d.syncLoop()

	if d.config.HashCheckInterval > 0 {
		d.wg.Add(1)
		go d.hashCheckLoop()
	}

	if d.watcher != nil {
		if err := os.MkdirAll(d.config.InboxDir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
		if err := d.watcher.Add(d.config.InboxDir); err != nil {
			return fmt.Errorf("failed to watch inbox directory: %w", err)
		}
		d.config.Logger.Printf("Watching inbox: %s", d.config.InboxDir)
		d.ingestExisting()

		d.wg.Add(2)
		go d.watchInboxEvents()
		go d.processChangeQueue()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing inbox watcher: %v", err)
		}
	}
	if d.channel != nil {
		d.channel.Stop()
	}

	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

func (d *Daemon) syncOptions() sync.Options {
	return sync.Options{
		FetchGroups: d.config.FetchGroups,
		FetchUsers:  d.config.FetchUsers,
	}
}

// syncLoop periodically runs a full cache sync pass.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.orchestrator.SyncCache(d.ctx, d.syncOptions()); err != nil {
				d.config.Logger.Printf("Cache sync failed: %v", err)
			}
		}
	}
}

// hashCheckLoop periodically runs the per-entity hash comparison.
func (d *Daemon) hashCheckLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.HashCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			diffs, err := d.orchestrator.CheckEntityHashes(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Hash check failed: %v", err)
				continue
			}
			if diffs > 0 {
				d.config.Logger.Printf("Hash check found %d drifted entities", diffs)
			}
		}
	}
}

// watchInboxEvents monitors filesystem events and queues changes.
func (d *Daemon) watchInboxEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Inbox watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued inbox files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges ingests inbox files that have settled long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)

		if err := d.ingestFile(path); err != nil {
			d.config.Logger.Printf("Failed to ingest %s: %v", filepath.Base(path), err)
		}
	}
}

// ingestExisting sweeps files already present in the inbox at startup.
func (d *Daemon) ingestExisting() {
	entries, err := os.ReadDir(d.config.InboxDir)
	if err != nil {
		d.config.Logger.Printf("Failed to read inbox directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(d.config.InboxDir, entry.Name())
		if err := d.ingestFile(path); err != nil {
			d.config.Logger.Printf("Failed to ingest %s: %v", entry.Name(), err)
		}
	}
}

// ingestFile parses one dropped task file, records it through the outbox
// (create when the task has no server id yet, update otherwise), and
// removes the file on success.
func (d *Daemon) ingestFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read inbox file: %w", err)
	}

	var task schema.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return fmt.Errorf("failed to parse inbox file: %w", err)
	}

	if task.ID == 0 {
		err = d.outbox.CreateTask(d.ctx, &task)
	} else {
		err = d.outbox.UpdateTask(d.ctx, &task)
	}
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to remove ingested file %s: %v", path, err)
	}
	d.config.Logger.Printf("Ingested %s (task %d)", filepath.Base(path), task.ID)
	return nil
}
