package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/sqlite"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Stack owns the attached store, the model, and the main context that
// application code reads and writes through.
type Stack struct {
	model  *types.Model
	store  types.PersistentStore
	logger *zap.Logger
	main   *Context

	mu          sync.Mutex
	mergeTarget *Context
	contexts    []*Context
	closed      bool
}

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger for the stack, its contexts and the default
// backend.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Stack) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackend replaces the default SQLite backend. Open attaches it.
func WithBackend(store types.PersistentStore) Option {
	return func(s *Stack) {
		s.store = store
	}
}

// Open validates the model, attaches the store described by cfg and creates
// the main context.
func Open(cfg types.Config, model *types.Model, opts ...Option) (*Stack, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model", types.ErrInvalidModel)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{model: model, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = sqlite.NewBackend(sqlite.WithLogger(s.logger))
	}
	if err := s.store.Attach(cfg); err != nil {
		return nil, fmt.Errorf("attaching store: %w", err)
	}

	s.main = newContext(s, "main", nil)
	s.contexts = []*Context{s.main}
	s.mergeTarget = s.main
	s.logger.Debug("stack opened",
		zap.String("backend", cfg.Backend),
		zap.String("data_dir", cfg.DataDir),
		zap.Strings("entities", model.EntityNames()))
	return s, nil
}

// Model returns the model the stack was opened with.
func (s *Stack) Model() *types.Model { return s.model }

// Store returns the attached store.
func (s *Stack) Store() types.PersistentStore { return s.store }

// MainContext returns the root, store-attached context.
func (s *Stack) MainContext() *Context { return s.main }

// NewChildContext returns a context whose saves go into parent.
func (s *Stack) NewChildContext(parent *Context) *Context {
	return s.track("child", parent)
}

// NewBackgroundContext returns a store-attached context for work off the
// main context. Its committed saves are merged into the merge target on the
// target's queue.
func (s *Stack) NewBackgroundContext() *Context {
	c := s.track("background", nil)
	c.Observe(s.mergeIntoTarget)
	return c
}

// SetMergeTarget chooses the context that background saves are merged into.
// Nil disables merging.
func (s *Stack) SetMergeTarget(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeTarget = c
}

func (s *Stack) mergeIntoTarget(n SaveNotification) {
	s.mu.Lock()
	target := s.mergeTarget
	s.mu.Unlock()
	if target == nil || target == n.Source {
		return
	}
	f := target.Perform(context.Background(), func(context.Context) error {
		target.MergeChanges(n)
		return nil
	})
	if _, done, err := f.Result(); done && err != nil {
		s.logger.Debug("merge skipped", zap.String("target", target.Name()), zap.Error(err))
	}
}

// track creates a context named after its kind and position in the stack.
func (s *Stack) track(kind string, parent *Context) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := newContext(s, fmt.Sprintf("%s-%d", kind, len(s.contexts)), parent)
	s.contexts = append(s.contexts, c)
	return c
}

// Close stops every context queue, newest first, and detaches the store.
// Unsaved changes are discarded. Close is idempotent.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	contexts := s.contexts
	s.mu.Unlock()

	for i := len(contexts) - 1; i >= 0; i-- {
		contexts[i].Close()
	}
	if err := s.store.Detach(); err != nil {
		return fmt.Errorf("detaching store: %w", err)
	}
	s.logger.Debug("stack closed")
	return nil
}

// Store errors.
var (
	ErrContextClosed = errors.New("context is closed")
	ErrObjectDeleted = errors.New("object is deleted")
	ErrForeignObject = errors.New("object belongs to another context")
)
