package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/k0ekk0ek/cdds/internal/graphfile"
	"github.com/k0ekk0ek/cdds/internal/layout"
	"github.com/k0ekk0ek/cdds/internal/layoutcache"
	"github.com/k0ekk0ek/cdds/internal/observ"
	"github.com/k0ekk0ek/cdds/internal/trace"
	"github.com/k0ekk0ek/cdds/internal/types"
)

const cacheApp = "cdds-align"

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <graph.toml>",
		Short: "Resolve the alignment class of every requested type",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}
	cmd.Flags().Int("jobs", 0, "max parallel resolutions (0 = manifest value or GOMAXPROCS)")
	cmd.Flags().String("format", "pretty", "output format (pretty|json)")
	cmd.Flags().Bool("cache", false, "reuse and store results in the on-disk cache")
	cmd.Flags().Bool("drop-cache", false, "clear the on-disk cache before resolving")
	cmd.Flags().StringSlice("type", nil, "resolve only these types (repeatable)")
	return cmd
}

type resolveOptions struct {
	path      string
	jobs      int
	format    string
	cache     bool
	dropCache bool
	roots     []string
	timings   bool
	color     bool
}

func readResolveOptions(cmd *cobra.Command, args []string) (resolveOptions, error) {
	opts := resolveOptions{path: args[0]}
	var err error
	if opts.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return opts, err
	}
	if opts.jobs < 0 {
		return opts, errInvalidFlag("jobs", strconv.Itoa(opts.jobs), "a non-negative integer")
	}
	if opts.format, err = cmd.Flags().GetString("format"); err != nil {
		return opts, err
	}
	opts.format = strings.ToLower(opts.format)
	if opts.format != "pretty" && opts.format != "json" {
		return opts, errInvalidFlag("format", opts.format, "pretty|json")
	}
	if opts.cache, err = cmd.Flags().GetBool("cache"); err != nil {
		return opts, err
	}
	if opts.dropCache, err = cmd.Flags().GetBool("drop-cache"); err != nil {
		return opts, err
	}
	if opts.roots, err = cmd.Flags().GetStringSlice("type"); err != nil {
		return opts, err
	}
	if opts.timings, err = cmd.Root().PersistentFlags().GetBool("timings"); err != nil {
		return opts, err
	}
	if opts.color, err = useColor(cmd, os.Stdout); err != nil {
		return opts, err
	}
	return opts, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	opts, err := readResolveOptions(cmd, args)
	if err != nil {
		return err
	}
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	tracer, cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	run := trace.Begin(tracer, trace.ScopeRun, "resolve", 0)
	defer run.End("")
	ctx = trace.WithSpan(ctx, run.ID())

	timer := observ.NewTimer()

	phase := timer.Begin(observ.PhaseLoad)
	span := trace.Begin(tracer, trace.ScopeBatch, "load", run.ID())
	file, err := graphfile.Load(opts.path)
	span.End("")
	if err != nil {
		return err
	}
	roots, err := selectRoots(file, opts.roots)
	if err != nil {
		return err
	}
	timer.End(phase, observ.Stats{Types: file.Graph.Len(), Roots: len(roots)})

	jobs := opts.jobs
	if jobs == 0 {
		jobs = file.Jobs
	}

	var (
		dc  *layoutcache.Cache
		key layoutcache.Key
	)
	if opts.cache || opts.dropCache {
		if dc, err = layoutcache.Open(cacheApp); err != nil {
			return fmt.Errorf("failed to open layout cache: %w", err)
		}
		if opts.dropCache {
			if err := dc.DropAll(); err != nil {
				return fmt.Errorf("failed to drop layout cache: %w", err)
			}
		}
		key = layoutcache.KeyFor(file.Graph, roots)
	}

	phase = timer.Begin(observ.PhaseResolve)
	batch := trace.Begin(tracer, trace.ScopeBatch, "batch", run.ID())
	out, err := resolveRoots(trace.WithSpan(ctx, batch.ID()), cmd, file.Graph, roots, jobs, dc, key, opts.cache)
	timer.End(phase, out.stats)
	if err != nil {
		batch.End("failed")
		dumpTrace(cmd, tracer, batch.ID())
		return err
	}
	batch.End("ok")

	phase = timer.Begin(observ.PhaseOutput)
	var report *observ.Report
	if opts.timings && opts.format == "json" {
		r := timer.Report()
		report = &r
	}
	switch opts.format {
	case "json":
		err = renderJSON(cmd.OutOrStdout(), file.Path, out.results, report)
	default:
		err = renderPretty(cmd.OutOrStdout(), out.results, opts.color)
	}
	timer.End(phase, observ.Stats{})
	if err != nil {
		return err
	}
	if opts.timings && opts.format != "json" {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}
	return nil
}

type resolveOutcome struct {
	results []layout.Result
	stats   observ.Stats
}

// resolveRoots serves the batch from the disk cache when allowed and
// resolves it otherwise. Cache failures only warn.
func resolveRoots(ctx context.Context, cmd *cobra.Command, g *types.Graph, roots []types.TypeID, jobs int, dc *layoutcache.Cache, key layoutcache.Key, useCache bool) (resolveOutcome, error) {
	out := resolveOutcome{stats: observ.Stats{Roots: len(roots)}}
	if useCache && dc != nil {
		cached, ok, err := dc.Get(key)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: ignoring layout cache: %v\n", err)
		} else if ok {
			out.results = cached
			out.stats.CacheHit = true
			return out, nil
		}
	}

	r := layout.New(g, layout.WithTracer(trace.FromContext(ctx)))
	results, err := r.ResolveAll(ctx, roots, jobs)
	out.stats.Computed = r.Computations()
	if err != nil {
		return out, err
	}
	out.results = results
	if useCache && dc != nil {
		if err := dc.Put(key, results); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to store layout cache: %v\n", err)
		}
	}
	return out, nil
}

// selectRoots applies --type overrides to the manifest roots.
func selectRoots(file *graphfile.File, names []string) ([]types.TypeID, error) {
	if len(names) == 0 {
		return file.Roots, nil
	}
	roots := make([]types.TypeID, 0, len(names))
	for _, name := range names {
		id, ok := file.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown type %q", file.Path, name)
		}
		roots = append(roots, id)
	}
	return roots, nil
}

// dumpTrace writes the ring events of the failed batch span to stderr.
func dumpTrace(cmd *cobra.Command, tracer trace.Tracer, batch uint64) {
	ring, ok := trace.RingOf(tracer)
	if !ok {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "trace (most recent events):")
	if err := ring.Dump(cmd.ErrOrStderr(), trace.FormatText, batch); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to dump trace: %v\n", err)
	}
}

func errInvalidFlag(name, value, expected string) error {
	return fmt.Errorf("invalid --%s value %q (expected: %s)", name, value, expected)
}
