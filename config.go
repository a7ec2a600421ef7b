package ostler

import "time"

// Config holds tunables shared across workers, schedulers, and the engine
// facade. Zero values are replaced by the corresponding DefaultConfig
// values at construction time.
type Config struct {
	// Queues is the ordered list of queues a worker will poll. Order is
	// priority: earlier queues are always drained first.
	Queues []string

	// Concurrency is the number of workers a pool supervisor runs.
	Concurrency int

	// WorkerTTL bounds how long a worker's presence record survives
	// without a heartbeat before the worker is presumed dead.
	WorkerTTL time.Duration

	// MonitoringInterval is how often a busy worker polls its horse and
	// renews heartbeats while a job is running.
	MonitoringInterval time.Duration

	// HeartbeatMargin is the fixed safety margin added to every
	// heartbeat TTL so a registry entry never expires before the next
	// scheduled heartbeat lands.
	HeartbeatMargin time.Duration

	// DefaultTimeout is the hard execution limit applied to jobs that do
	// not carry their own.
	DefaultTimeout time.Duration

	// DefaultResultTTL is how long a finished job's record is kept.
	DefaultResultTTL time.Duration

	// DefaultFailureTTL is how long a failed, stopped, or canceled job's
	// record is kept.
	DefaultFailureTTL time.Duration

	// MaintenanceInterval is how often a worker runs registry cleanup and
	// intermediate-list recovery for its bound queues.
	MaintenanceInterval time.Duration

	// SchedulerInterval is how often the scheduler polls scheduled
	// registries for due jobs.
	SchedulerInterval time.Duration

	// ShutdownTimeout caps how long a warm shutdown waits for the current
	// job before escalating.
	ShutdownTimeout time.Duration

	// Serializer names the payload serializer ("json" or "msgpack").
	Serializer string
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Queues:              []string{"default"},
		Concurrency:         1,
		WorkerTTL:           420 * time.Second,
		MonitoringInterval:  30 * time.Second,
		HeartbeatMargin:     60 * time.Second,
		DefaultTimeout:      180 * time.Second,
		DefaultResultTTL:    500 * time.Second,
		DefaultFailureTTL:   365 * 24 * time.Hour,
		MaintenanceInterval: 10 * time.Minute,
		SchedulerInterval:   time.Second,
		ShutdownTimeout:     30 * time.Second,
		Serializer:          "json",
	}
}

// DequeueTimeout is the blocking-pop window derived from WorkerTTL. It is
// kept shorter than the TTL so the presence record cannot expire while the
// worker is merely blocked waiting for work.
func (c Config) DequeueTimeout() time.Duration {
	t := c.WorkerTTL - 15*time.Second
	if t < time.Second {
		t = time.Second
	}
	return t
}
