// Package worker implements the job execution side of ostler: a Worker
// dequeues jobs from its bound queues, runs each one in an isolated horse,
// and records the outcome; a Pool supervises several workers in one
// process.
//
// # Horses
//
// A horse is the unit of isolation around a job body. In SpawnHorse mode
// (the default) the worker launches a child OS process — a re-exec of the
// running binary — that resolves the job's function through the handler
// registry, executes it, writes the terminal state to the store, and
// exits. An unrecoverable crash or infinite loop in job code therefore
// never takes down the long-lived worker: the monitor kills the child's
// process group and synthesizes a failure. Binaries using SpawnHorse mode
// must call MaybeRunHorse near the top of main, before any other side
// effects:
//
//	w := worker.New(store, handlers, worker.WithQueues("default"))
//	if ran, err := w.MaybeRunHorse(ctx); ran {
//	    if err != nil {
//	        os.Exit(1)
//	    }
//	    return
//	}
//	_ = w.Work(ctx)
//
// GoroutineHorse mode runs the job body on a goroutine in the worker
// process instead. It needs no re-exec hook and is what the test suite
// uses, but it cannot hard-kill runaway job code: cancellation is
// cooperative through the job context, and a body that ignores its
// context leaks the goroutine. Process spawning is the mode to use
// wherever that guarantee matters.
//
// # Shutdown
//
// The first SIGINT/SIGTERM (or shutdown command) starts a warm shutdown:
// the worker finishes its current job and exits, or exits immediately if
// idle. A second signal escalates to cold: the horse is killed and the
// worker exits without waiting; started-registry cleanup later recovers
// the interrupted job.
package worker
