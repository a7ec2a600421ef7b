package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/serialize"
	"github.com/xraph/ostler/store"
)

// Hash field names of the persisted job record. Subsystems composing
// multi-key transactions write these directly into their pipelines.
const (
	FieldData          = "data"
	FieldStatus        = "status"
	FieldCreatedAt     = "created_at"
	FieldEnqueuedAt    = "enqueued_at"
	FieldStartedAt     = "started_at"
	FieldEndedAt       = "ended_at"
	FieldLastHeartbeat = "last_heartbeat"
	FieldOrigin        = "origin"
	FieldWorkerName    = "worker_name"
	FieldRetriesLeft   = "retries_left"
	FieldResult        = "result"
	FieldExcInfo       = "exc_info"
)

type invocation struct {
	Func   string         `json:"f" msgpack:"f"`
	Args   []any          `json:"args,omitempty" msgpack:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty" msgpack:"kwargs,omitempty"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists jobs as Redis hashes, one hash per job. The data and
// exc_info fields are zlib-compressed; all other fields are plain strings
// so the record stays inspectable with redis-cli.
type Store struct {
	client store.Client
	ser    serialize.Serializer
	logger *slog.Logger
}

// NewStore creates a job store. The caller owns the client lifecycle, and
// every worker sharing a queue must use the same serializer.
func NewStore(client store.Client, ser serialize.Serializer, opts ...StoreOption) *Store {
	s := &Store{client: client, ser: ser, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() store.Client { return s.client }

// Serializer returns the payload serializer.
func (s *Store) Serializer() serialize.Serializer { return s.ser }

// Logger returns the store's logger, for collaborators that log on its
// behalf.
func (s *Store) Logger() *slog.Logger { return s.logger }

// Map flattens a job into its hash representation.
func (s *Store) Map(j *Job) (map[string]any, error) {
	data, err := s.ser.Dumps(invocation{Func: j.Func, Args: j.Args, Kwargs: j.Kwargs})
	if err != nil {
		return nil, fmt.Errorf("ostler/job: serialize data: %w", err)
	}

	m := map[string]any{
		FieldData:        string(serialize.Compress(data)),
		FieldStatus:      string(j.Status),
		FieldOrigin:      j.Origin,
		FieldCreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"timeout":        strconv.FormatInt(int64(j.Timeout/time.Second), 10),
		"ttl":            strconv.FormatInt(j.TTL, 10),
		"result_ttl":     strconv.FormatInt(j.ResultTTL, 10),
		"failure_ttl":    strconv.FormatInt(j.FailureTTL, 10),
		FieldRetriesLeft: strconv.Itoa(j.RetriesLeft),
	}

	if j.WorkerName != "" {
		m[FieldWorkerName] = j.WorkerName
	}
	if j.EnqueuedAt != nil {
		m[FieldEnqueuedAt] = j.EnqueuedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m[FieldStartedAt] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.EndedAt != nil {
		m[FieldEndedAt] = j.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.LastHeartbeat != nil {
		m[FieldLastHeartbeat] = j.LastHeartbeat.UTC().Format(time.RFC3339Nano)
	}

	if len(j.DependencyIDs) > 0 {
		m["dependency_ids"] = marshalJSON(j.DependencyIDs)
	}
	if j.AllowDependencyFailures {
		m["allow_dependency_failures"] = "1"
	}
	if j.EnqueueAtFront {
		m["enqueue_at_front"] = "1"
	}
	if len(j.RetryIntervals) > 0 {
		m["retry_intervals"] = marshalJSON(j.RetryIntervals)
	}

	if j.SuccessCallback != nil {
		m["success_callback_name"] = j.SuccessCallback.Name
		m["success_callback_timeout"] = strconv.FormatInt(int64(j.SuccessCallback.Timeout/time.Second), 10)
	}
	if j.FailureCallback != nil {
		m["failure_callback_name"] = j.FailureCallback.Name
		m["failure_callback_timeout"] = strconv.FormatInt(int64(j.FailureCallback.Timeout/time.Second), 10)
	}
	if j.StoppedCallback != nil {
		m["stopped_callback_name"] = j.StoppedCallback.Name
		m["stopped_callback_timeout"] = strconv.FormatInt(int64(j.StoppedCallback.Timeout/time.Second), 10)
	}

	if len(j.Result) > 0 {
		m[FieldResult] = string(j.Result)
	}
	if j.ExcInfo != "" {
		m[FieldExcInfo] = string(serialize.Compress([]byte(j.ExcInfo)))
	}
	if len(j.Meta) > 0 {
		meta, err := s.ser.Dumps(j.Meta)
		if err != nil {
			return nil, fmt.Errorf("ostler/job: serialize meta: %w", err)
		}
		m["meta"] = string(meta)
	}

	return m, nil
}

// ParseMap rebuilds a job from its hash representation. A record whose
// data field cannot be decoded fails with ostler.ErrDeserialization;
// callers in dequeue loops log and skip those rather than aborting.
func (s *Store) ParseMap(jobID string, m map[string]string) (*Job, error) {
	j := &Job{
		ID:         jobID,
		Status:     Status(m[FieldStatus]),
		Origin:     m[FieldOrigin],
		WorkerName: m[FieldWorkerName],
	}

	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	j.Timeout = time.Duration(timeout) * time.Second
	j.TTL, _ = strconv.ParseInt(m["ttl"], 10, 64)                //nolint:errcheck // best-effort parse from trusted Redis data
	j.ResultTTL, _ = strconv.ParseInt(m["result_ttl"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	j.FailureTTL, _ = strconv.ParseInt(m["failure_ttl"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	j.RetriesLeft, _ = strconv.Atoi(m[FieldRetriesLeft])         //nolint:errcheck // best-effort parse from trusted Redis data

	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m[FieldCreatedAt]) //nolint:errcheck // best-effort parse from trusted Redis data
	j.EnqueuedAt = parseTimePtr(m[FieldEnqueuedAt])
	j.StartedAt = parseTimePtr(m[FieldStartedAt])
	j.EndedAt = parseTimePtr(m[FieldEndedAt])
	j.LastHeartbeat = parseTimePtr(m[FieldLastHeartbeat])

	j.DependencyIDs = unmarshalStrings(m["dependency_ids"])
	j.AllowDependencyFailures = m["allow_dependency_failures"] == "1"
	j.EnqueueAtFront = m["enqueue_at_front"] == "1"

	if v := m["retry_intervals"]; v != "" {
		_ = json.Unmarshal([]byte(v), &j.RetryIntervals) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	if name := m["success_callback_name"]; name != "" {
		j.SuccessCallback = &Callback{Name: name, Timeout: parseSeconds(m["success_callback_timeout"])}
	}
	if name := m["failure_callback_name"]; name != "" {
		j.FailureCallback = &Callback{Name: name, Timeout: parseSeconds(m["failure_callback_timeout"])}
	}
	if name := m["stopped_callback_name"]; name != "" {
		j.StoppedCallback = &Callback{Name: name, Timeout: parseSeconds(m["stopped_callback_timeout"])}
	}

	if v := m[FieldResult]; v != "" {
		j.Result = []byte(v)
	}
	if v := m[FieldExcInfo]; v != "" {
		raw, err := serialize.Decompress([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%w: exc_info for job %s: %v", ostler.ErrDeserialization, jobID, err)
		}
		j.ExcInfo = string(raw)
	}
	if v := m["meta"]; v != "" {
		if err := s.ser.Loads([]byte(v), &j.Meta); err != nil {
			return nil, fmt.Errorf("%w: meta for job %s: %v", ostler.ErrDeserialization, jobID, err)
		}
	}

	if v := m[FieldData]; v != "" {
		raw, err := serialize.Decompress([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%w: data for job %s: %v", ostler.ErrDeserialization, jobID, err)
		}
		var inv invocation
		if err := s.ser.Loads(raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: data for job %s: %v", ostler.ErrDeserialization, jobID, err)
		}
		j.Func = inv.Func
		j.Args = inv.Args
		j.Kwargs = inv.Kwargs
	}

	return j, nil
}

// Save writes the full record. A positive TTL also bounds the record's
// life in the store.
func (s *Store) Save(ctx context.Context, j *Job) error {
	fields, err := s.Map(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, j.Key(), fields)
	if j.TTL > 0 {
		pipe.Expire(ctx, j.Key(), time.Duration(j.TTL)*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/job: save %s: %w", j.ID, err)
	}
	return nil
}

// Fetch retrieves a job by id. Missing or expired records return
// ostler.ErrNoSuchJob.
func (s *Store) Fetch(ctx context.Context, jobID string) (*Job, error) {
	vals, err := s.client.HGetAll(ctx, ostler.JobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/job: fetch %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", ostler.ErrNoSuchJob, jobID)
	}
	return s.ParseMap(jobID, vals)
}

// FetchMany retrieves several jobs in one round trip. The result aligns
// with ids; missing or undecodable records yield nil entries.
func (s *Store) FetchMany(ctx context.Context, jobIDs ...string) ([]*Job, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(jobIDs))
	for i, jobID := range jobIDs {
		cmds[i] = pipe.HGetAll(ctx, ostler.JobKey(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ostler/job: fetch many: %w", err)
	}

	jobs := make([]*Job, len(jobIDs))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		j, err := s.ParseMap(jobIDs[i], vals)
		if err != nil {
			s.logger.Warn("skipping undecodable job", slog.String("job_id", jobIDs[i]), slog.String("error", err.Error()))
			continue
		}
		jobs[i] = j
	}
	return jobs, nil
}

// Exists reports whether a record is present for the id.
func (s *Store) Exists(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, ostler.JobKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("ostler/job: exists %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Delete removes the job record and its dependency link keys. Queue and
// registry membership is the caller's concern.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ostler.JobKey(jobID))
	pipe.Del(ctx, ostler.JobDependentsKey(jobID))
	pipe.Del(ctx, ostler.JobDependenciesKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/job: delete %s: %w", jobID, err)
	}
	return nil
}

// SetStatus writes the status field and mirrors it on the struct.
func (s *Store) SetStatus(ctx context.Context, j *Job, st Status) error {
	if err := s.client.HSet(ctx, j.Key(), FieldStatus, string(st)).Err(); err != nil {
		return fmt.Errorf("ostler/job: set status %s: %w", j.ID, err)
	}
	j.Status = st
	return nil
}

// Status reads the current status field alone, without decoding the rest
// of the record.
func (s *Store) Status(ctx context.Context, jobID string) (Status, error) {
	v, err := s.client.HGet(ctx, ostler.JobKey(jobID), FieldStatus).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", fmt.Errorf("%w: %s", ostler.ErrNoSuchJob, jobID)
		}
		return "", fmt.Errorf("ostler/job: status %s: %w", jobID, err)
	}
	st, ok := ParseStatus(v)
	if !ok {
		return "", fmt.Errorf("%w: status %q for job %s", ostler.ErrDeserialization, v, jobID)
	}
	return st, nil
}

// Heartbeat refreshes the job's liveness timestamp and, when the job is
// in a started registry, bumps its score to now+ttl so the entry never
// expires before the next scheduled heartbeat.
func (s *Store) Heartbeat(ctx context.Context, j *Job, ttl time.Duration) error {
	now := time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, j.Key(), FieldLastHeartbeat, now.Format(time.RFC3339Nano))
	pipe.ZAddXX(ctx, ostler.StartedRegistryKey(j.Origin), goredis.Z{
		Score:  float64(now.Add(ttl).Unix()),
		Member: j.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/job: heartbeat %s: %w", j.ID, err)
	}

	j.LastHeartbeat = &now
	return nil
}

// ── helpers ──

func parseTimePtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func parseSeconds(v string) time.Duration {
	n, _ := strconv.ParseInt(v, 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	return time.Duration(n) * time.Second
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}
