package layout

import (
	"context"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/trace"
	"github.com/k0ekk0ek/cdds/internal/types"
)

// Result is the resolved layout of one requested type.
type Result struct {
	ID     types.TypeID
	Name   string
	Class  align.Class
	Export align.Export
}

// ResolveAll resolves ids concurrently with at most jobs workers.
// The batch is all-or-nothing: the first structural error cancels the
// remaining work and is returned alone. Results keep the order of ids.
func (r *Resolver) ResolveAll(ctx context.Context, ids []types.TypeID, jobs int) ([]Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	tracer := trace.FromContext(ctx)
	if !tracer.Enabled() {
		tracer = r.tracer
	}
	span := trace.Begin(tracer, trace.ScopeBatch, "resolve", trace.CurrentSpan(ctx))
	span.WithExtra("types", strconv.Itoa(len(ids)))

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(ids)))
	for i, id := range ids {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			cls, err := r.resolve(id, span.ID())
			if err != nil {
				return err
			}
			results[i] = Result{
				ID:     id,
				Name:   r.Graph.Label(id),
				Class:  cls,
				Export: align.ExportOf(cls),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.End("failed: " + err.Error())
		return nil, err
	}
	span.End("ok")
	return results, nil
}
