package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Context is a unit of work over the store. It tracks the objects it has
// registered and the changes made to them until Save. A context is either
// attached to the store (no parent) or a child of another context; saving a
// child pushes its changes into the parent and saves the parent in turn.
//
// Each context owns a serial work queue. Perform and its variants run blocks
// on that queue one at a time; direct method calls are also safe.
type Context struct {
	name   string
	stack  *Stack
	parent *Context
	queue  *serialQueue
	logger *zap.Logger

	mu        sync.Mutex
	objects   map[string]*Object
	inserted  []*Object
	updated   map[string]*Object
	deleted   map[string]*Object
	observers []func(SaveNotification)
}

func newContext(s *Stack, name string, parent *Context) *Context {
	return &Context{
		name:    name,
		stack:   s,
		parent:  parent,
		queue:   newSerialQueue(),
		logger:  s.logger.With(zap.String("context", name)),
		objects: make(map[string]*Object),
		updated: make(map[string]*Object),
		deleted: make(map[string]*Object),
	}
}

// Name identifies the context in logs.
func (c *Context) Name() string { return c.name }

// Parent returns the parent context, or nil for a store-attached context.
func (c *Context) Parent() *Context { return c.parent }

// Model returns the model of the stack the context belongs to.
func (c *Context) Model() *types.Model { return c.stack.model }

// Perform runs fn on the context's queue and returns a future of its error.
// If ctx is done before fn starts, fn is skipped and the future fails with
// ctx's error. After Close the future is rejected with ErrContextClosed.
func (c *Context) Perform(ctx context.Context, fn func(context.Context) error) *Future[struct{}] {
	return PerformValue(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// PerformValue runs fn on c's queue and returns a future of its result.
func PerformValue[T any](ctx context.Context, c *Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	ok := c.queue.submit(func() {
		if err := ctx.Err(); err != nil {
			var zero T
			f.resolve(zero, err)
			return
		}
		f.resolve(fn(ctx))
	})
	if !ok {
		return Rejected[T](fmt.Errorf("%s: %w", c.name, ErrContextClosed))
	}
	return f
}

// PerformAndWait runs fn on the context's queue and waits for it. It must not
// be called from a block already running on the same context.
func (c *Context) PerformAndWait(ctx context.Context, fn func(context.Context) error) error {
	_, err := c.Perform(ctx, fn).Wait(ctx)
	return err
}

// SaveAsync runs Save on the context's queue.
func (c *Context) SaveAsync(ctx context.Context) *Future[struct{}] {
	return c.Perform(ctx, c.Save)
}

// Close stops the context's queue after queued blocks finish. Later Perform
// calls are rejected with ErrContextClosed. Close is idempotent.
func (c *Context) Close() {
	c.queue.close()
}

// Observe registers fn to receive a notification after every successful
// store commit made by this context. fn runs on the saving goroutine.
func (c *Context) Observe(fn func(SaveNotification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Insert creates and registers a new object of entity.
func (c *Context) Insert(entity string) (*Object, error) {
	e, err := c.stack.model.Entity(entity)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating object ID: %w", err)
	}
	now := time.Now().UTC()
	o := newObject(c, e, &types.Record{Entity: e.Name, ID: id.String(), CreatedAt: now, UpdatedAt: now})
	o.inserted = true

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[o.id] = o
	c.inserted = append(c.inserted, o)
	return o, nil
}

// Object returns the object with the given ID, faulting it in from the parent
// chain or the store when it is not registered yet.
func (c *Context) Object(ctx context.Context, id string) (*Object, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	c.mu.Lock()
	if o, ok := c.objects[id]; ok {
		c.mu.Unlock()
		if o.IsDeleted() {
			return nil, fmt.Errorf("object %s: %w", id, types.ErrNotFound)
		}
		return o, nil
	}
	c.mu.Unlock()

	r, err := c.upstreamRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.register(r)
}

// upstreamRecord reads an object's state from the parent chain or the store.
func (c *Context) upstreamRecord(ctx context.Context, id string) (*types.Record, error) {
	if c.parent != nil {
		return c.parent.recordFor(ctx, id)
	}
	r, err := c.stack.store.Get(ctx, "", id)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return r, nil
}

// recordFor returns the state of an object as this context sees it.
func (c *Context) recordFor(ctx context.Context, id string) (*types.Record, error) {
	c.mu.Lock()
	if o, ok := c.objects[id]; ok {
		defer c.mu.Unlock()
		if o.deleted {
			return nil, fmt.Errorf("object %s: %w", id, types.ErrNotFound)
		}
		return o.recordLocked(), nil
	}
	c.mu.Unlock()
	return c.upstreamRecord(ctx, id)
}

// register returns the registered object for r, creating it from r when the
// context does not know it yet.
func (c *Context) register(r *types.Record) (*Object, error) {
	e, err := c.stack.model.Entity(r.Entity)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.objects[r.ID]; ok {
		return o, nil
	}
	o := newObject(c, e, r)
	o.snapshot = r.Clone()
	c.objects[o.id] = o
	return o, nil
}

// Delete marks obj for deletion. Deleting an object inserted in this context
// discards it without a store round trip.
func (c *Context) Delete(obj *Object) error {
	if obj.c != c {
		return ErrForeignObject
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj.deleted {
		return nil
	}
	obj.deleted = true
	if obj.inserted {
		c.removeInsertedLocked(obj)
		delete(c.objects, obj.id)
		return nil
	}
	delete(c.updated, obj.id)
	c.deleted[obj.id] = obj
	return nil
}

// HasChanges reports whether the context holds unsaved inserts, updates or
// deletes.
func (c *Context) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasChangesLocked()
}

// Rollback discards unsaved changes. Inserted objects are unregistered and
// changed objects return to their last saved state.
func (c *Context) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, o := range c.inserted {
		o.deleted = true
		delete(c.objects, o.id)
	}
	c.inserted = nil

	restore := func(o *Object) {
		if o.snapshot == nil {
			delete(c.objects, o.id)
			return
		}
		o.applyRecordLocked(o.snapshot)
		o.deleted = false
	}
	for _, o := range c.updated {
		restore(o)
	}
	for _, o := range c.deleted {
		restore(o)
	}
	c.updated = make(map[string]*Object)
	c.deleted = make(map[string]*Object)
	c.logger.Debug("rolled back")
}

// Save commits the context's changes. A store-attached context commits them
// to the store and notifies its observers. A child context pushes them into
// its parent and saves the parent, so a successful save reaches the store.
// Without changes Save does nothing. When the store commit fails the
// changes stay in the context.
func (c *Context) Save(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasChangesLocked() {
		c.mu.Unlock()
		return nil
	}
	changes := c.changeSetLocked()

	if c.parent != nil {
		if err := c.parent.absorb(changes); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("saving %s into %s: %w", c.name, c.parent.name, err)
		}
		c.markSavedLocked()
		c.mu.Unlock()
		c.logger.Debug("pushed changes to parent",
			zap.String("parent", c.parent.name),
			zap.Int("inserted", len(changes.Inserted)),
			zap.Int("updated", len(changes.Updated)),
			zap.Int("deleted", len(changes.Deleted)))
		return c.parent.Save(ctx)
	}

	if err := c.stack.store.Commit(ctx, changes); err != nil {
		c.mu.Unlock()
		c.logger.Debug("save failed", zap.Error(err))
		return fmt.Errorf("saving %s: %w", c.name, err)
	}
	c.markSavedLocked()
	observers := append([]func(SaveNotification){}, c.observers...)
	c.mu.Unlock()

	c.logger.Debug("saved",
		zap.Int("inserted", len(changes.Inserted)),
		zap.Int("updated", len(changes.Updated)),
		zap.Int("deleted", len(changes.Deleted)))

	note := SaveNotification{
		Source:   c,
		Inserted: changes.Inserted,
		Updated:  changes.Updated,
		Deleted:  changes.Deleted,
	}
	for _, fn := range observers {
		fn(note)
	}
	return nil
}

// absorb applies a child's saved changes as unsaved changes of c.
func (c *Context) absorb(changes types.ChangeSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range changes.Inserted {
		e, err := c.stack.model.Entity(r.Entity)
		if err != nil {
			return err
		}
		o := newObject(c, e, r)
		o.inserted = true
		c.objects[o.id] = o
		c.inserted = append(c.inserted, o)
	}
	for _, r := range changes.Updated {
		o, ok := c.objects[r.ID]
		if !ok {
			e, err := c.stack.model.Entity(r.Entity)
			if err != nil {
				return err
			}
			o = newObject(c, e, r)
			c.objects[o.id] = o
		}
		o.applyRecordLocked(r)
		o.deleted = false
		delete(c.deleted, o.id)
		c.markUpdatedLocked(o)
	}
	for _, r := range changes.Deleted {
		o, ok := c.objects[r.ID]
		if !ok {
			e, err := c.stack.model.Entity(r.Entity)
			if err != nil {
				return err
			}
			o = newObject(c, e, r)
			c.objects[o.id] = o
		}
		o.deleted = true
		if o.inserted {
			c.removeInsertedLocked(o)
			delete(c.objects, o.id)
			continue
		}
		delete(c.updated, o.id)
		c.deleted[o.id] = o
	}
	return nil
}

func (c *Context) hasChangesLocked() bool {
	return len(c.inserted) > 0 || len(c.updated) > 0 || len(c.deleted) > 0
}

// chainHasChanges reports whether c or any ancestor holds unsaved changes.
func (c *Context) chainHasChanges() bool {
	for p := c; p != nil; p = p.parent {
		if p.HasChanges() {
			return true
		}
	}
	return false
}

func (c *Context) isChangedLocked(o *Object) bool {
	if o.inserted {
		return true
	}
	_, updated := c.updated[o.id]
	_, deleted := c.deleted[o.id]
	return updated || deleted
}

func (c *Context) markUpdatedLocked(o *Object) {
	if o.inserted || o.deleted {
		return
	}
	c.updated[o.id] = o
}

func (c *Context) removeInsertedLocked(o *Object) {
	for i, ins := range c.inserted {
		if ins == o {
			c.inserted = append(c.inserted[:i], c.inserted[i+1:]...)
			break
		}
	}
	o.inserted = false
}

// changedLocked returns inserted objects in insertion order followed by
// updated objects in ID order.
func (c *Context) changedLocked() []*Object {
	out := append([]*Object(nil), c.inserted...)
	return append(out, sortedObjects(c.updated)...)
}

func (c *Context) changeSetLocked() types.ChangeSet {
	var cs types.ChangeSet
	for _, o := range c.inserted {
		cs.Inserted = append(cs.Inserted, o.recordLocked())
	}
	for _, o := range sortedObjects(c.updated) {
		cs.Updated = append(cs.Updated, o.recordLocked())
	}
	for _, o := range sortedObjects(c.deleted) {
		cs.Deleted = append(cs.Deleted, o.recordLocked())
	}
	return cs
}

// markSavedLocked makes the current state of every changed object its saved
// state and forgets deleted objects.
func (c *Context) markSavedLocked() {
	for _, o := range c.inserted {
		o.inserted = false
		o.snapshot = o.recordLocked()
	}
	for _, o := range c.updated {
		o.snapshot = o.recordLocked()
	}
	for id := range c.deleted {
		delete(c.objects, id)
	}
	c.inserted = nil
	c.updated = make(map[string]*Object)
	c.deleted = make(map[string]*Object)
}

func sortedObjects(m map[string]*Object) []*Object {
	out := make([]*Object, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
