package entity

import (
	"context"
	"sort"
	"sync"

	"grimm.is/boxwatch/internal/events"
	"grimm.is/boxwatch/internal/logging"
)

// Registry owns the entity set. It rebuilds switches and sensors from
// each snapshot so entities follow devices as they appear and vanish,
// while keeping the instance ids of entities that persist.
type Registry struct {
	ctrl Controller
	hub  *events.Hub
	log  *logging.Logger

	mu       sync.RWMutex
	entities map[string]Entity
}

// NewRegistry creates an empty registry.
func NewRegistry(ctrl Controller, hub *events.Hub) *Registry {
	return &Registry{
		ctrl:     ctrl,
		hub:      hub,
		log:      logging.WithComponent("entity"),
		entities: make(map[string]Entity),
	}
}

// Run rebuilds entities on every snapshot update until ctx is done.
// Call it from a goroutine after the first refresh.
func (r *Registry) Run(ctx context.Context) {
	sub := r.hub.Subscribe(16, events.EventSnapshotUpdated)
	defer r.hub.Unsubscribe(sub)

	r.Rebuild()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub:
			r.Rebuild()
		}
	}
}

// Rebuild derives the entity set from the current snapshot. Entities
// whose id survives keep their instance, so UIDs stay stable across
// refreshes.
func (r *Registry) Rebuild() {
	snap := r.ctrl.Snapshot()
	if snap == nil {
		return
	}

	next := make(map[string]Entity)
	keep := func(e Entity) {
		if old, ok := r.get(e.ID()); ok {
			next[e.ID()] = old
			return
		}
		next[e.ID()] = e
	}

	keep(NewRulesSensor(r.ctrl))
	for _, d := range snap.DeviceList() {
		keep(NewDeviceSensor(r.ctrl, d))
		keep(NewBlockSwitch(r.ctrl, d))
		if GamingCapable(d) {
			keep(NewGamingSwitch(r.ctrl, d))
		}
	}

	r.mu.Lock()
	added := len(next) - len(r.entities)
	r.entities = next
	r.mu.Unlock()

	if added != 0 {
		r.log.Debug("entity set rebuilt", "entities", len(next))
	}
}

func (r *Registry) get(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (Entity, bool) {
	return r.get(id)
}

// List returns all entities sorted by id.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of entities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
