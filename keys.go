package ostler

// Redis key naming conventions for ostler data.
// All keys are prefixed with "ostler:" to avoid collisions. Every package
// builds its keys here so the schema has a single authoritative home.

const KeyPrefix = "ostler:"

// ── Job keys ──

// JobKey returns the hash key for a job record: ostler:job:{id}
func JobKey(id string) string { return KeyPrefix + "job:" + id }

// JobDependentsKey returns the Set of job ids that depend on this job.
func JobDependentsKey(id string) string { return JobKey(id) + ":dependents" }

// JobDependenciesKey returns the Set of job ids this job depends on.
func JobDependenciesKey(id string) string { return JobKey(id) + ":dependencies" }

// ── Queue keys ──

// QueueKey returns the List key holding a queue's pending job ids.
func QueueKey(name string) string { return KeyPrefix + "queue:" + name }

// IntermediateQueueKey returns the List key holding job ids in the
// pop-to-started handoff window.
func IntermediateQueueKey(name string) string { return QueueKey(name) + ":intermediate" }

// QueuesKey is the Set tracking all queue names for enumeration.
const QueuesKey = KeyPrefix + "queues"

// ── Registry keys ──
// One Sorted Set per (status class, queue) pair, scored by an absolute
// expiry timestamp or, for the scheduled registry, a due timestamp.

// StartedRegistryKey indexes jobs currently executing on a worker.
func StartedRegistryKey(queue string) string { return KeyPrefix + "wip:" + queue }

// FinishedRegistryKey indexes successfully finished jobs until result_ttl.
func FinishedRegistryKey(queue string) string { return KeyPrefix + "finished:" + queue }

// FailedRegistryKey indexes failed jobs until failure_ttl.
func FailedRegistryKey(queue string) string { return KeyPrefix + "failed:" + queue }

// DeferredRegistryKey indexes jobs waiting on unmet dependencies.
func DeferredRegistryKey(queue string) string { return KeyPrefix + "deferred:" + queue }

// ScheduledRegistryKey indexes delayed jobs scored by due time.
func ScheduledRegistryKey(queue string) string { return KeyPrefix + "scheduled:" + queue }

// CanceledRegistryKey indexes canceled jobs until failure_ttl.
func CanceledRegistryKey(queue string) string { return KeyPrefix + "canceled:" + queue }

// ── Worker keys ──

// WorkerKey returns the hash key for a worker's presence record.
func WorkerKey(name string) string { return KeyPrefix + "worker:" + name }

// WorkersKey is the Set tracking all live worker names.
const WorkersKey = KeyPrefix + "workers"

// QueueWorkersKey is the Set of worker names bound to one queue.
func QueueWorkersKey(queue string) string { return KeyPrefix + "workers:queue:" + queue }

// SuspendedKey is the store-wide flag that pauses all dequeuing.
const SuspendedKey = KeyPrefix + "suspended"

// ── Command keys ──

// CommandChannel returns the pub/sub channel for one worker's commands.
func CommandChannel(workerName string) string { return KeyPrefix + "command:" + workerName }

// ── Scheduler keys ──

// SchedulerLockKey returns the per-queue leader lock key.
func SchedulerLockKey(queue string) string { return KeyPrefix + "scheduler:lock:" + queue }

// CronEntriesKey is the Hash mapping cron entry ids to their definitions.
const CronEntriesKey = KeyPrefix + "cron"
