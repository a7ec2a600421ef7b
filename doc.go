// Package ostler provides a distributed job queue and worker orchestration
// engine for Go, built on Redis list, sorted-set, hash, pub/sub, and
// optimistic-transaction primitives.
//
// Ostler is designed as a library, not a service. Import it, point it at a
// Redis deployment, register handlers as ordinary Go functions, and run
// workers. Producers enqueue work with dependencies, retries, timeouts, and
// callbacks; a fleet of worker processes executes it, surviving crashes,
// network partitions, and contention between redundant schedulers.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithRedisURL("redis://localhost:6379/0"),
//	    engine.WithQueues("default"),
//	)
//
// # Architecture
//
// The root package holds configuration, the error taxonomy, and the Redis
// key schema. Each subsystem lives in its own package: job (entity and
// state machine), queue (FIFO transport with a crash-safe intermediate
// list), registry (per-status sorted-set indexes), deps (dependency
// resolution under optimistic concurrency), command (pub/sub control
// channel), worker (dequeue loop, horse processes, heartbeats), scheduler
// (leader-elected promotion of delayed jobs), and engine (the facade that
// wires them together).
//
// Generated entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers. Caller-supplied job IDs are accepted as opaque strings.
package ostler
