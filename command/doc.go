// Package command carries control messages to workers over pub/sub.
//
// Every worker listens on its own channel. Three commands exist:
// shutdown asks the worker to finish its current job and exit, kill-horse
// terminates the current execution immediately, and stop-job combines an
// ownership check with kill-horse so callers can stop a job by id without
// knowing which worker runs it.
//
// Delivery is fire-and-forget: pub/sub has no backlog, so a command sent
// while a worker is disconnected is gone. That matches the commands'
// nature, all three only make sense against a live worker.
package command
