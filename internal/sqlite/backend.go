package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// DatabaseFile is the SQLite file created inside DataDir.
const DatabaseFile = "larder.db"

// Compile-time interface check.
var _ types.PersistentStore = (*Backend)(nil)

// Backend implements PersistentStore using SQLite as the query engine and
// JSONL files as the source of truth.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sqlx.DB
	logger   *zap.Logger

	// Sync strategy state.
	syncStrategy  string         // effective sync strategy: immediate, on_close, batch
	batchSize     int            // number of commits before batch flush
	batchInterval time.Duration  // time between batch flushes
	pendingWrites []pendingWrite // queue of writes pending JSONL persist
	batchTimer    *time.Timer    // timer for interval-based batch flush
	batchMu       sync.Mutex     // protects pendingWrites and batchTimer
}

// pendingWrite represents a deferred JSONL write operation.
// Used by on_close and batch sync strategies.
type pendingWrite struct {
	operation string       // "commit"
	records   int          // number of records in the commit
	persist   func() error // function to execute the JSONL write
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for commit and sync traces.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, initializes a fresh SQLite schema,
// and loads the JSONL files into it.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is rebuilt from JSONL on every attach.
	dbPath := filepath.Join(dataDir, DatabaseFile)
	_ = os.Remove(dbPath)

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection serializes SQLite access; the backend lock already
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return err
	}

	if err := initJSONLFiles(dataDir); err != nil {
		db.Close()
		return err
	}

	if err := loadAllJSONL(db, dataDir); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir

	b.syncStrategy = config.SQLiteConfig.GetSyncStrategy()
	b.batchSize = config.SQLiteConfig.GetBatchSize()
	b.batchInterval = config.SQLiteConfig.GetBatchInterval()
	b.pendingWrites = nil

	if b.syncStrategy == types.SyncBatch && b.batchInterval > 0 {
		b.startBatchTimer()
	}

	b.attached = true
	b.logger.Debug("backend attached",
		zap.String("data_dir", dataDir),
		zap.String("sync_strategy", b.syncStrategy))
	return nil
}

// Detach releases all resources held by the backend.
// For on_close and batch sync strategies, flushes all pending writes before
// closing. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.stopBatchTimer()

	if err := b.flushPendingWritesLocked(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	b.logger.Debug("backend detached", zap.String("data_dir", b.dataDir))
	return nil
}

// DataDir returns the directory the backend is attached to.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataDir
}

func createSchema(db *sqlx.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	for _, ddl := range indexDDL {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// Sync strategy methods.

// shouldPersistImmediately returns true if JSONL writes should happen immediately.
func (b *Backend) shouldPersistImmediately() bool {
	return b.syncStrategy == types.SyncImmediate || b.syncStrategy == ""
}

// syncJSONL mirrors a finished commit to the JSONL files according to the
// sync strategy. The caller must hold b.mu.
func (b *Backend) syncJSONL(records int) error {
	persist := func() error {
		return persistAllJSONL(context.Background(), b.db, b.dataDir)
	}
	if b.shouldPersistImmediately() {
		return persist()
	}
	return b.queueWrite("commit", records, persist)
}

// queueWrite adds a write operation to the pending queue. For the batch
// strategy the queue is flushed synchronously once it reaches batchSize.
// The caller must hold b.mu.
func (b *Backend) queueWrite(operation string, records int, persist func() error) error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	b.pendingWrites = append(b.pendingWrites, pendingWrite{
		operation: operation,
		records:   records,
		persist:   persist,
	})

	if b.syncStrategy == types.SyncBatch && b.batchSize > 0 && len(b.pendingWrites) >= b.batchSize {
		return b.flushPendingWritesBatchLocked()
	}
	return nil
}

// flushPendingWritesLocked flushes all pending writes to JSONL files.
// The caller must hold b.mu write lock.
func (b *Backend) flushPendingWritesLocked() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	return b.flushPendingWritesBatchLocked()
}

// flushPendingWritesBatchLocked executes the newest pending write. Every
// persist rewrites the full mirror, so older queued writes are superseded.
// The caller must hold b.batchMu lock.
func (b *Backend) flushPendingWritesBatchLocked() error {
	if len(b.pendingWrites) == 0 {
		return nil
	}

	last := b.pendingWrites[len(b.pendingWrites)-1]
	if err := last.persist(); err != nil {
		return fmt.Errorf("flush %s: %w", last.operation, err)
	}

	total := 0
	for _, pw := range b.pendingWrites {
		total += pw.records
	}
	b.logger.Debug("flushed pending writes",
		zap.Int("commits", len(b.pendingWrites)),
		zap.Int("records", total))

	b.pendingWrites = nil
	return nil
}

// pendingWriteCount returns the number of queued commits.
func (b *Backend) pendingWriteCount() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return len(b.pendingWrites)
}

// startBatchTimer starts the batch interval timer for periodic flushes.
func (b *Backend) startBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		return
	}

	b.batchTimer = time.AfterFunc(b.batchInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.attached {
			return
		}

		if err := b.flushPendingWritesLocked(); err != nil {
			b.logger.Warn("batch flush failed", zap.Error(err))
		}

		b.batchMu.Lock()
		if b.batchTimer != nil && b.attached {
			b.batchTimer.Reset(b.batchInterval)
		}
		b.batchMu.Unlock()
	})
}

// stopBatchTimer stops the batch interval timer if running.
func (b *Backend) stopBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		b.batchTimer.Stop()
		b.batchTimer = nil
	}
}
