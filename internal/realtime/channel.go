package realtime

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/tasksync/tasksync/internal/hash"
	"github.com/tasksync/tasksync/internal/schema"
)

// Reconciler triggers a full task re-fetch and cache overwrite.
// *sync.Orchestrator satisfies it.
type Reconciler interface {
	ReconcileTasks(ctx context.Context) (bool, error)
}

// Config holds channel configuration.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	// InitialBackoff is the first reconnect delay (default: 2s).
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay (default: 60s).
	MaxBackoff time.Duration

	// DialTimeout bounds a single connection attempt (default: 10s).
	DialTimeout time.Duration

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		DialTimeout:    10 * time.Second,
		Logger:         log.New(os.Stderr, "[realtime] ", log.LstdFlags),
	}
}

// Channel is the persistent push connection to the server.
//
// State machine: Disconnected -> Connecting -> Connected. The connecting
// and connected flags are mutually exclusive atomics, so at most one
// connection attempt is ever in flight. Inbound messages are applied to the
// local store through the event processor; they are already
// server-confirmed and bypass the sync queue. Malformed or unrecognized
// messages are logged and discarded, never crashing the reconnect loop.
type Channel struct {
	cfg        *Config
	store      Store
	events     *Processor
	reconciler Reconciler
	logger     *log.Logger

	connecting atomic.Bool
	connected  atomic.Bool
	backoff    *backoff

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a realtime channel. The config URL must be set; other config
// fields fall back to DefaultConfig values.
func New(cfg *Config, store Store, reconciler Reconciler) *Channel {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Channel{
		cfg:        cfg,
		store:      store,
		events:     NewProcessor(store, cfg.Logger),
		reconciler: reconciler,
		logger:     cfg.Logger,
		backoff:    newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
	}
}

// Events exposes the channel's event processor for other delta sources.
func (c *Channel) Events() *Processor {
	return c.events
}

// Connected reports whether the channel currently holds an open connection.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Start opens the channel and keeps it open until Stop.
//
// A no-op when the channel is already connected or a connection attempt is
// in flight. Connection failures and server-initiated closures schedule a
// reconnect after the current backoff delay, doubling up to the ceiling;
// the delay resets after the next successful connect.
func (c *Channel) Start() {
	if c.connected.Load() {
		return
	}
	if !c.connecting.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop cancels any pending reconnect, closes the connection if open, and
// leaves the channel disconnected.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client stopping")
	}

	c.wg.Wait()
	c.connected.Store(false)
	c.connecting.Store(false)
}

// run is the connect/read/reconnect loop.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.connecting.Store(false)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.backoff.Next()
			c.logger.Printf("Connect failed, retrying in %v: %v", delay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		// Set connected before clearing connecting: at every instant at
		// least one flag is held, so a concurrent Start stays a no-op.
		c.connected.Store(true)
		c.connecting.Store(false)
		c.backoff.Reset()
		c.logger.Printf("Connected to %s", c.cfg.URL)

		c.readLoop(ctx, conn)

		// Reclaim connecting before dropping connected for the same reason.
		c.connecting.Store(true)
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}

		delay := c.backoff.Next()
		c.logger.Printf("Connection lost, reconnecting in %v", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop receives frames until the connection drops.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		c.handleMessage(ctx, data)
	}
}

// handleMessage classifies and applies one inbound frame. Errors never
// propagate: a bad message is logged and the connection stays open.
func (c *Channel) handleMessage(ctx context.Context, data []byte) {
	msg, err := schema.ParseMessage(data)
	if err != nil {
		c.logger.Printf("Discarding malformed message: %v", err)
		return
	}

	switch msg.Type {
	case schema.MessageTaskUpdate:
		if err := c.events.ApplyTaskUpdate(ctx, msg); err != nil {
			c.logger.Printf("Failed to apply task update: %v", err)
		}

	case schema.MessageHashCheck:
		c.handleHashCheck(ctx, msg.DataHash)

	default:
		c.logger.Printf("Discarding message of unknown type %q", msg.Type)
	}
}

// handleHashCheck compares the server digest against the local cache and
// triggers a full reconciliation on mismatch.
func (c *Channel) handleHashCheck(ctx context.Context, serverDigest string) {
	local, err := c.store.ListTasks(ctx)
	if err != nil {
		c.logger.Printf("Hash check: failed to read cache: %v", err)
		return
	}
	if hash.Digest(local) == serverDigest {
		return
	}

	c.logger.Printf("Hash check mismatch, reconciling task cache")
	if _, err := c.reconciler.ReconcileTasks(ctx); err != nil {
		c.logger.Printf("Hash check reconciliation failed: %v", err)
	}
}
