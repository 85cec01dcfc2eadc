package layout

import (
	"sync/atomic"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/trace"
	"github.com/k0ekk0ek/cdds/internal/types"
)

// Resolver computes the alignment class of every type in a graph.
//
// A Resolver owns its cache for one compilation run and never evicts; the
// graph is borrowed read-only. All methods are safe for concurrent use.
type Resolver struct {
	Graph *types.Graph

	tracer       trace.Tracer
	cache        *cache
	computations atomic.Uint64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTracer sends per-type and per-member events to t.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates a Resolver over g.
func New(g *types.Graph, opts ...Option) *Resolver {
	r := &Resolver{
		Graph:  g,
		tracer: trace.Nop,
		cache:  newCache(g),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the alignment class of id.
func (r *Resolver) Resolve(id types.TypeID) (align.Class, error) {
	cls, err := r.resolve(id, 0)
	if err != nil {
		return align.Invalid, err
	}
	return cls, nil
}

func (r *Resolver) resolve(id types.TypeID, span uint64) (align.Class, *LayoutError) {
	if _, ok := r.Graph.Lookup(id); !ok {
		return align.Invalid, &LayoutError{Kind: LayoutErrUnknownTypeReference, Ref: id}
	}
	if cls, err, ok := r.cache.get(id); ok {
		return cls, err
	}
	return r.classOf(&walk{span: span}, id)
}

// ExportOf resolves id and returns the emitter view of its class.
func (r *Resolver) ExportOf(id types.TypeID) (align.Export, error) {
	cls, err := r.Resolve(id)
	if err != nil {
		return align.Export{}, err
	}
	return align.ExportOf(cls), nil
}

// Computations returns how many types have been computed so far. Cached
// lookups and waits on another caller's computation do not count.
func (r *Resolver) Computations() uint64 {
	return r.computations.Load()
}

func (r *Resolver) classOf(w *walk, id types.TypeID) (align.Class, *LayoutError) {
	return r.cache.getOrResolve(w, id, func() (align.Class, *LayoutError) {
		r.computations.Add(1)
		cls, err := r.compute(w, id)
		r.traceType(w, id, cls, err)
		return cls, err
	})
}

func (r *Resolver) traceType(w *walk, id types.TypeID, cls align.Class, err *LayoutError) {
	if !r.tracer.Enabled() {
		return
	}
	name := "type:" + r.Graph.Label(id)
	if err != nil {
		trace.Point(r.tracer, trace.ScopeType, name, err.Error(), w.span, nil)
		return
	}
	trace.Point(r.tracer, trace.ScopeType, name, cls.String(), w.span, map[string]string{
		"render": cls.Render(),
	})
}
