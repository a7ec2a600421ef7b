// Package engine is the front door of ostler: one handle that wires the
// store connection, serializer, handler registry, queues, workers, and
// scheduler together.
//
// A producer process needs only an engine:
//
//	eng, err := engine.New(engine.WithRedisURL("redis://localhost:6379/0"))
//	...
//	j, err := eng.Enqueue(ctx, "email.send",
//	    job.WithKwargs(map[string]any{"to": "ada@example.com"}),
//	    job.WithRetry(3, 10, 60))
//
// A worker process registers handlers and runs:
//
//	eng.Register("email.send", sendEmail)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// Start runs a worker pool and a scheduler in-process. Deployments that
// separate roles construct the pieces directly via NewWorker and
// NewScheduler instead.
package engine
