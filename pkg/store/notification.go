package store

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// SaveNotification describes a change set a store-attached context has
// committed.
type SaveNotification struct {
	Source   *Context
	Inserted []*types.Record
	Updated  []*types.Record
	Deleted  []*types.Record
}

// ObjectIDs returns the IDs of every record in the notification.
func (n SaveNotification) ObjectIDs() []string {
	ids := make([]string, 0, len(n.Inserted)+len(n.Updated)+len(n.Deleted))
	for _, set := range [][]*types.Record{n.Inserted, n.Updated, n.Deleted} {
		for _, r := range set {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// MergeChanges brings committed changes from another context into c.
// Registered objects without unsaved changes take the committed state;
// deleted objects are unregistered. Objects c has not registered are left
// to be faulted in on demand.
func (c *Context) MergeChanges(n SaveNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshed := 0
	for _, set := range [][]*types.Record{n.Inserted, n.Updated} {
		for _, r := range set {
			o, ok := c.objects[r.ID]
			if !ok || c.isChangedLocked(o) {
				continue
			}
			o.applyRecordLocked(r)
			o.snapshot = r.Clone()
			refreshed++
		}
	}

	removed := 0
	for _, r := range n.Deleted {
		o, ok := c.objects[r.ID]
		if !ok {
			continue
		}
		if o.inserted {
			continue
		}
		delete(c.objects, r.ID)
		delete(c.updated, r.ID)
		delete(c.deleted, r.ID)
		o.deleted = true
		removed++
	}

	source := ""
	if n.Source != nil {
		source = n.Source.Name()
	}
	c.logger.Debug("merged changes",
		zap.String("source", source),
		zap.Int("refreshed", refreshed),
		zap.Int("removed", removed))
}
