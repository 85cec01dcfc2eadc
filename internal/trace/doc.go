// Package trace records what the alignment toolchain does while it runs.
//
// Events are emitted at four scopes: the CLI run, a resolution batch, a single
// type, and a single member of a composite. The level chosen on the command
// line decides which scopes reach the output:
//
//	cdds-align --trace=- --trace-level=detail resolve graph.toml
//
// Tracers travel through the pipeline in a context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeBatch, "resolve", 0)
//	defer span.End("")
//
// A RingTracer keeps the most recent events in memory. When a batch fails the
// CLI dumps only the subtree of the failing batch span.
package trace
