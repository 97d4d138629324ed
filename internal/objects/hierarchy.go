package objects

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/pkg/errors"
)

// ErrClosed is returned by queries against a hierarchy that has been closed,
// e.g. because its image was closed while a density map was being built.
var ErrClosed = errors.New("object hierarchy closed")

// Index is the spatial query contract consumed by the density map builder.
//
// Query returns every object on the plane whose bound intersects region,
// sorted by ascending ID. A point query is a zero-area region.
type Index interface {
	Query(ctx context.Context, region orb.Bound, plane Plane) ([]*Object, error)
}

// EventType describes a hierarchy mutation.
type EventType int

const (
	EventAdded EventType = iota
	EventRemoved
	EventCleared
)

// Event is published to subscribers after every hierarchy mutation.
type Event struct {
	Type  EventType
	Count int
}

// Hierarchy is an in-memory object store with a spatial index.
//
// Hierarchy is safe for concurrent use. Objects are indexed by centroid in an
// orb quadtree sized to the image and searched with a margin of the largest
// object extent; objects whose centroid falls outside the
// image are kept in an overflow set and scanned linearly.
type Hierarchy struct {
	mu        sync.RWMutex
	bound     orb.Bound
	tree      *quadtree.Quadtree
	overflow  map[int64]*Object
	byID      map[int64]*Object
	nextID    int64
	maxExtent float64
	closed    bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewHierarchy creates an empty hierarchy for an image of the given size.
func NewHierarchy(width, height int) *Hierarchy {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(width), float64(height)}}
	return &Hierarchy{
		bound:    b,
		tree:     quadtree.New(b),
		overflow: make(map[int64]*Object),
		byID:     make(map[int64]*Object),
		nextID:   1,
		subs:     make(map[int]chan Event),
	}
}

// Add inserts objects, assigning IDs in insertion order. The stored copies
// are returned so callers can refer to them by ID.
func (h *Hierarchy) Add(objs ...*Object) []*Object {
	if len(objs) == 0 {
		return nil
	}
	h.mu.Lock()
	added := make([]*Object, 0, len(objs))
	for _, o := range objs {
		if o == nil {
			continue
		}
		stored := o.WithID(h.nextID)
		h.nextID++
		h.insertLocked(stored)
		added = append(added, stored)
	}
	h.mu.Unlock()

	h.publish(Event{Type: EventAdded, Count: len(added)})
	return added
}

// Restore inserts objects keeping their IDs, so parent references saved
// with them stay valid. Objects without an ID or with an ID already in use
// are given a fresh one; later Adds continue after the largest ID.
func (h *Hierarchy) Restore(objs ...*Object) []*Object {
	if len(objs) == 0 {
		return nil
	}
	h.mu.Lock()
	for _, o := range objs {
		if o != nil && o.ID >= h.nextID {
			h.nextID = o.ID + 1
		}
	}
	added := make([]*Object, 0, len(objs))
	for _, o := range objs {
		if o == nil {
			continue
		}
		id := o.ID
		if _, taken := h.byID[id]; id <= 0 || taken {
			id = h.nextID
			h.nextID++
		}
		stored := o.WithID(id)
		h.insertLocked(stored)
		added = append(added, stored)
	}
	h.mu.Unlock()

	h.publish(Event{Type: EventAdded, Count: len(added)})
	return added
}

func (h *Hierarchy) insertLocked(o *Object) {
	h.byID[o.ID] = o
	if err := h.tree.Add(o); err != nil {
		h.overflow[o.ID] = o
	}
	b := o.Bound()
	if ext := max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]); ext > h.maxExtent {
		h.maxExtent = ext
	}
}

// Remove deletes every object matching pred and returns the removed objects
// sorted by ID.
func (h *Hierarchy) Remove(pred Predicate) []*Object {
	h.mu.Lock()
	var removed []*Object
	for id, o := range h.byID {
		if !pred(o) {
			continue
		}
		delete(h.byID, id)
		if _, ok := h.overflow[id]; ok {
			// The quadtree never saw it, and may still have no root.
			delete(h.overflow, id)
		} else {
			target := o
			h.tree.Remove(o, func(p orb.Pointer) bool { return p.(*Object) == target })
		}
		removed = append(removed, o)
	}
	h.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	sortByID(removed)
	h.publish(Event{Type: EventRemoved, Count: len(removed)})
	return removed
}

// Clear removes all objects.
func (h *Hierarchy) Clear() {
	h.mu.Lock()
	n := len(h.byID)
	h.tree = quadtree.New(h.bound)
	h.overflow = make(map[int64]*Object)
	h.byID = make(map[int64]*Object)
	h.maxExtent = 0
	h.mu.Unlock()
	h.publish(Event{Type: EventCleared, Count: n})
}

// Get returns the object with the given ID.
func (h *Hierarchy) Get(id int64) (*Object, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.byID[id]
	return o, ok
}

// Objects returns every object matching pred, sorted by ID. A nil predicate
// matches everything.
func (h *Hierarchy) Objects(pred Predicate) []*Object {
	h.mu.RLock()
	out := make([]*Object, 0, len(h.byID))
	for _, o := range h.byID {
		if pred == nil || pred(o) {
			out = append(out, o)
		}
	}
	h.mu.RUnlock()
	sortByID(out)
	return out
}

// Len returns the number of objects.
func (h *Hierarchy) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Bound returns the image bound the hierarchy was created for.
func (h *Hierarchy) Bound() orb.Bound { return h.bound }

// Query implements Index.
func (h *Hierarchy) Query(ctx context.Context, region orb.Bound, plane Plane) ([]*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrClosed
	}

	search := region.Pad(h.maxExtent)
	match := func(o *Object) bool {
		return o.Plane == plane && o.Bound().Intersects(region)
	}
	var out []*Object
	for _, p := range h.tree.InBound(nil, search) {
		if o := p.(*Object); match(o) {
			out = append(out, o)
		}
	}
	for _, o := range h.overflow {
		if match(o) {
			out = append(out, o)
		}
	}
	h.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

// Close marks the hierarchy unavailable. Subsequent queries return ErrClosed
// and subscriber channels are closed.
func (h *Hierarchy) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.subMu.Lock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.subMu.Unlock()
}

// Subscribe returns a channel receiving mutation events and a function that
// cancels the subscription. The channel holds at most one pending event;
// bursts of mutations coalesce into that event.
func (h *Hierarchy) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			if c, ok := h.subs[id]; ok {
				close(c)
				delete(h.subs, id)
			}
			h.subMu.Unlock()
		})
	}
}

func (h *Hierarchy) publish(ev Event) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// A pending event already signals invalidation.
		}
	}
}

func sortByID(objs []*Object) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
}
