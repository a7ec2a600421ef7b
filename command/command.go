package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/store"
)

// Command names understood by workers.
const (
	Shutdown  = "shutdown"
	KillHorse = "kill-horse"
	StopJob   = "stop-job"
)

// Command is the wire payload on a worker's control channel.
type Command struct {
	Name  string `json:"command"`
	JobID string `json:"job_id,omitempty"`
}

// Send publishes a command to the named worker's channel.
func Send(ctx context.Context, c store.Client, workerName string, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("ostler/command: encode %s: %w", cmd.Name, err)
	}
	if err := c.Publish(ctx, ostler.CommandChannel(workerName), payload).Err(); err != nil {
		return fmt.Errorf("ostler/command: send %s to %s: %w", cmd.Name, workerName, err)
	}
	return nil
}

// SendShutdown asks the worker to stop accepting work and exit once its
// current job finishes.
func SendShutdown(ctx context.Context, c store.Client, workerName string) error {
	return Send(ctx, c, workerName, Command{Name: Shutdown})
}

// SendKillHorse terminates the worker's current execution immediately.
func SendKillHorse(ctx context.Context, c store.Client, workerName string) error {
	return Send(ctx, c, workerName, Command{Name: KillHorse})
}

// SendStopJob stops a job by id. The job must be running and owned by a
// worker; anything else fails with ErrInvalidJobOperation.
func SendStopJob(ctx context.Context, s *job.Store, jobID string) error {
	j, err := s.Fetch(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusStarted || j.WorkerName == "" {
		return fmt.Errorf("%w: job %s is not currently executing", ostler.ErrInvalidJobOperation, jobID)
	}
	return Send(ctx, s.Client(), j.WorkerName, Command{Name: StopJob, JobID: jobID})
}

// Listener receives commands addressed to one worker.
type Listener struct {
	pubsub *goredis.PubSub
	ch     chan Command
	logger *slog.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ListenerOption {
	return func(lis *Listener) { lis.logger = l }
}

// Listen subscribes to the worker's control channel and starts delivering
// commands. Close releases the subscription.
func Listen(ctx context.Context, c store.Client, workerName string, opts ...ListenerOption) (*Listener, error) {
	pubsub := c.Subscribe(ctx, ostler.CommandChannel(workerName))
	if _, err := pubsub.Receive(ctx); err != nil {
		//nolint:errcheck // the subscription never became usable
		pubsub.Close()
		return nil, fmt.Errorf("ostler/command: subscribe %s: %w", workerName, err)
	}

	l := &Listener{
		pubsub: pubsub,
		ch:     make(chan Command, 16),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	go l.loop(workerName)
	return l, nil
}

func (l *Listener) loop(workerName string) {
	defer close(l.ch)
	for msg := range l.pubsub.Channel() {
		var cmd Command
		if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
			l.logger.Warn("discarding malformed command payload",
				slog.String("worker", workerName), slog.Any("error", err))
			continue
		}
		select {
		case l.ch <- cmd:
		default:
			l.logger.Warn("command channel full, dropping",
				slog.String("worker", workerName), slog.String("command", cmd.Name))
		}
	}
}

// Commands returns the stream of received commands. It closes when the
// listener closes.
func (l *Listener) Commands() <-chan Command { return l.ch }

// Close unsubscribes and stops the delivery loop.
func (l *Listener) Close() error {
	return l.pubsub.Close()
}
