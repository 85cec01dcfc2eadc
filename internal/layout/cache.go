package layout

import (
	"slices"
	"sync"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/types"
)

type entryState uint8

const (
	entryInProgress entryState = iota + 1
	entryResolved
)

// entry is one computation slot. class and err are written once, before done
// is closed.
type entry struct {
	id    types.TypeID
	state entryState
	owner *walk
	done  chan struct{}
	class align.Class
	err   *LayoutError
}

// walk is one top-level resolution. stack holds the ids it currently owns in
// progress, outermost first; waiting is the foreign entry it blocks on.
// Both are guarded by cache.mu.
type walk struct {
	span    uint64
	stack   []types.TypeID
	waiting *entry
}

// cache memoizes classes per type id for one run and lets concurrent walks
// share a single computation per id.
type cache struct {
	mu     sync.Mutex
	graph  *types.Graph
	byType map[types.TypeID]*entry
}

func newCache(g *types.Graph) *cache {
	return &cache{graph: g, byType: make(map[types.TypeID]*entry, 256)}
}

func (c *cache) cycleError(id types.TypeID, cycle []types.TypeID) *LayoutError {
	err := &LayoutError{Kind: LayoutErrCyclicEmbedding, Type: id, Cycle: cycle}
	return err.withLabels(c.graph)
}

// get returns a finished result without blocking.
func (c *cache) get(id types.TypeID) (align.Class, *LayoutError, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byType[id]
	if !ok || e.state != entryResolved {
		return align.Invalid, nil, false
	}
	return e.class, e.err, true
}

// getOrResolve returns the class of id, running compute at most once per id.
func (c *cache) getOrResolve(w *walk, id types.TypeID, compute func() (align.Class, *LayoutError)) (align.Class, *LayoutError) {
	c.mu.Lock()
	e, ok := c.byType[id]
	if !ok {
		e = c.markInProgress(w, id)
		c.mu.Unlock()
		cls, err := compute()
		c.complete(e, cls, err)
		return cls, err
	}
	if e.state == entryResolved {
		c.mu.Unlock()
		return e.class, e.err
	}
	if e.owner == w {
		cycle := cycleFrom(w.stack, id)
		c.mu.Unlock()
		return align.Invalid, c.cycleError(id, cycle)
	}
	if cycle := c.waitCycle(w, e); cycle != nil {
		c.mu.Unlock()
		return align.Invalid, c.cycleError(id, cycle)
	}
	w.waiting = e
	c.mu.Unlock()

	<-e.done

	c.mu.Lock()
	w.waiting = nil
	c.mu.Unlock()
	return e.class, e.err
}

// markInProgress must be called with c.mu held.
func (c *cache) markInProgress(w *walk, id types.TypeID) *entry {
	e := &entry{
		id:    id,
		state: entryInProgress,
		owner: w,
		done:  make(chan struct{}),
	}
	c.byType[id] = e
	w.stack = append(w.stack, id)
	return e
}

func (c *cache) complete(e *entry, cls align.Class, err *LayoutError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.class = cls
	e.err = err
	e.state = entryResolved
	if w := e.owner; w != nil && len(w.stack) > 0 && w.stack[len(w.stack)-1] == e.id {
		w.stack = w.stack[:len(w.stack)-1]
	}
	e.owner = nil
	close(e.done)
}

// waitCycle reports the embedding cycle that blocking w on e would close, or
// nil when waiting is safe. Must be called with c.mu held.
//
// Each owner in the chain waits on an entry that some later owner holds; if
// the chain leads back to w, the ids held along it form a direct embedding
// cycle split across walks.
func (c *cache) waitCycle(w *walk, e *entry) []types.TypeID {
	var cycle []types.TypeID
	seen := make(map[*walk]struct{}, 4)
	from := e
	for {
		owner := from.owner
		if owner == nil {
			return nil
		}
		if _, dup := seen[owner]; dup {
			return nil
		}
		seen[owner] = struct{}{}
		cycle = append(cycle, tailFrom(owner.stack, from.id)...)
		next := owner.waiting
		if next == nil {
			return nil
		}
		if next.owner == w {
			cycle = append(cycle, tailFrom(w.stack, next.id)...)
			return append(cycle, e.id)
		}
		from = next
	}
}

func tailFrom(stack []types.TypeID, id types.TypeID) []types.TypeID {
	idx := slices.Index(stack, id)
	if idx < 0 {
		return nil
	}
	return slices.Clone(stack[idx:])
}

func cycleFrom(stack []types.TypeID, id types.TypeID) []types.TypeID {
	return append(tailFrom(stack, id), id)
}
