// Package middleware provides composable middleware for job execution.
//
// Middleware wrap the registered handler synchronously, in the process
// that runs the job body. The default chain used by workers is:
//
//	Chain(Logging(logger), Tracing(), Metrics(), Recover(logger), Timeout(logger))
//
// Custom middleware are added outermost-first. The outcome of the chain —
// nil or an error — is what the worker's bookkeeping records, so a
// middleware that swallows an error marks the job finished.
package middleware
