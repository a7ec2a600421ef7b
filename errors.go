package ostler

import "errors"

var (
	// Client errors.
	ErrNoClient     = errors.New("ostler: no redis client configured")
	ErrClientClosed = errors.New("ostler: client closed")

	// Job errors.
	ErrNoSuchJob           = errors.New("ostler: no such job")
	ErrDeserialization     = errors.New("ostler: cannot deserialize job data")
	ErrInvalidJobOperation = errors.New("ostler: invalid job operation")
	ErrJobAbandoned        = errors.New("ostler: job abandoned, worker presumed dead")

	// Dequeue errors. ErrDequeueTimeout is control flow, not a fault:
	// a blocking pop found nothing within the window.
	ErrDequeueTimeout        = errors.New("ostler: dequeue timed out")
	ErrInvalidDequeueTimeout = errors.New("ostler: dequeue timeout of zero is not allowed")

	// Registration errors.
	ErrHandlerNotFound    = errors.New("ostler: handler not registered")
	ErrUnknownSerializer  = errors.New("ostler: unknown serializer")
	ErrDuplicateCronEntry = errors.New("ostler: duplicate cron entry")
	ErrCronEntryNotFound  = errors.New("ostler: cron entry not found")

	// Worker errors.
	ErrWorkerNotFound   = errors.New("ostler: worker not found")
	ErrShutdownImminent = errors.New("ostler: shutdown imminent")
	ErrStopRequested    = errors.New("ostler: job stop requested")

	// Scheduler errors.
	ErrNotLeader      = errors.New("ostler: not the leader for this queue")
	ErrLeadershipLost = errors.New("ostler: leadership lost")

	// Transaction errors.
	ErrTooManyConflicts = errors.New("ostler: transaction retries exhausted")
)
