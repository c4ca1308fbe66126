// Package telemetry implements C8: a non-blocking hand-off of per-query
// QueryRecords to an external sink. The durable sink (AsynqSink, used when
// Redis is configured) dispatches through github.com/hibiken/asynq (backed by redis/go-redis), reusing the
// teacher's internal/tasks/asynq.go enqueue pattern so sink retries get
// Asynq's own bounded exponential backoff; MemorySink mirrors the
// teacher's internal/tasks/memory.go Redis-less fallback for tests/dev.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sudo-tiz/dns-proxy-go/internal/models"
)

// TaskTypePersistQuery is the Asynq task type a QueryRecord is enqueued
// under for durable persistence by an external worker process.
const TaskTypePersistQuery = "telemetry:persist_query"

// Sink is the push contract spec.md §6 defines for telemetry: it accepts a
// single QueryRecord and must tolerate retries (records may be delivered
// more than once on transient failure).
type Sink interface {
	Persist(ctx context.Context, record models.QueryRecord) error
}

// MemorySink stores records in-process. Grounded on the teacher's
// tasks.memoryClient fallback used when no Redis is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []models.QueryRecord
}

// NewMemorySink builds an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Persist appends record, always succeeding.
func (s *MemorySink) Persist(_ context.Context, record models.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything persisted so far (test/diagnostic use).
func (s *MemorySink) Records() []models.QueryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// AsynqSink enqueues each record as an Asynq task instead of persisting it
// directly; the telemetry-worker process (cmd/telemetryworker) performs the
// actual external-sink call, with Asynq supplying bounded retry/backoff.
type AsynqSink struct {
	client   *asynq.Client
	maxRetry int
}

// NewAsynqSink builds an AsynqSink backed by a Redis instance at redisAddr.
func NewAsynqSink(redisAddr string, maxRetry int) *AsynqSink {
	return &AsynqSink{
		client:   asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		maxRetry: maxRetry,
	}
}

// Persist marshals record and enqueues it as a TaskTypePersistQuery task,
// using the record's own ID for Asynq's dedup/idempotency key, mirroring
// the teacher's EnqueueDNSLookup.
func (s *AsynqSink) Persist(ctx context.Context, record models.QueryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("telemetry: marshal record: %w", err)
	}
	task := asynq.NewTask(TaskTypePersistQuery, data)
	opts := []asynq.Option{
		asynq.TaskID(record.ID),
		asynq.MaxRetry(s.maxRetry),
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("telemetry: enqueue: %w", err)
	}
	return nil
}

// Close releases the underlying Asynq client.
func (s *AsynqSink) Close() error {
	return s.client.Close()
}

// ExternalPersister is the real (out-of-scope) durable telemetry store's
// narrow contract; RedisListPersister is a minimal stand-in so the
// telemetry-worker process has something concrete to call.
type ExternalPersister interface {
	Persist(ctx context.Context, record models.QueryRecord) error
}

// RedisListPersister appends each record, JSON-encoded, to a Redis list —
// a minimal concrete ExternalPersister, not a reimplementation of
// original_source's MongoDB-backed analytics rollup (spec.md §1 explicitly
// excludes the durable telemetry store and rollup job).
type RedisListPersister struct {
	rdb  *redis.Client
	list string
}

// NewRedisListPersister builds a RedisListPersister over list key listKey.
func NewRedisListPersister(rdb *redis.Client, listKey string) *RedisListPersister {
	return &RedisListPersister{rdb: rdb, list: listKey}
}

// Persist JSON-encodes record and pushes it onto the configured list.
func (p *RedisListPersister) Persist(ctx context.Context, record models.QueryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("telemetry: marshal record: %w", err)
	}
	return p.rdb.RPush(ctx, p.list, data).Err()
}

// HandlePersistQueryTask is the Asynq handler a telemetry-worker process
// registers for TaskTypePersistQuery; it unmarshals the task payload and
// forwards to persister.
func HandlePersistQueryTask(persister ExternalPersister) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var record models.QueryRecord
		if err := json.Unmarshal(t.Payload(), &record); err != nil {
			return fmt.Errorf("telemetry: unmarshal task payload: %w", err)
		}
		return persister.Persist(ctx, record)
	}
}

// Tap is the non-blocking hand-off point the query pipeline calls at the
// end of every datagram's processing. Offer never blocks: a full queue
// drops the record and increments Dropped, per spec.md §4.8/§5.
type Tap struct {
	queue   chan models.QueryRecord
	dropped atomic.Uint64
	sink    Sink
	log     *slog.Logger

	maxBackoff time.Duration
}

// NewTap builds a Tap with the given bounded capacity and sink.
func NewTap(capacity int, sink Sink, log *slog.Logger) *Tap {
	if log == nil {
		log = slog.Default()
	}
	return &Tap{
		queue:      make(chan models.QueryRecord, capacity),
		sink:       sink,
		log:        log,
		maxBackoff: 30 * time.Second,
	}
}

// Offer is the one operation the pipeline calls. It is a non-blocking
// select with a drop-on-full default branch — by construction, this can
// never become the suspension point spec.md §5 forbids.
func (t *Tap) Offer(record models.QueryRecord) {
	select {
	case t.queue <- record:
	default:
		t.dropped.Add(1)
	}
}

// Dropped reports the total number of records dropped for a full queue.
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// Run drains the queue until ctx is cancelled, forwarding each record to
// the sink. Sink failures are retried with exponential backoff bounded at
// 30s and are never surfaced to the pipeline (spec.md §4.8).
func (t *Tap) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			t.log.Info("telemetry tap stopping", "queued_remaining", len(t.queue))
			return
		case record := <-t.queue:
			t.deliver(ctx, record)
		}
	}
}

func (t *Tap) deliver(ctx context.Context, record models.QueryRecord) {
	backoff := 100 * time.Millisecond
	for {
		err := t.sink.Persist(ctx, record)
		if err == nil {
			return
		}
		t.log.Warn("telemetry sink persist failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > t.maxBackoff {
			backoff = t.maxBackoff
		}
	}
}
