package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/sudo-tiz/dns-proxy-go/internal/models"
)

func TestOfferNeverBlocksOnFullQueue(t *testing.T) {
	sink := NewMemorySink()
	tap := NewTap(1, sink, nil)

	// Fill the queue without a drain running.
	tap.Offer(models.QueryRecord{ID: "1"})

	done := make(chan struct{})
	go func() {
		tap.Offer(models.QueryRecord{ID: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Offer blocked on a full queue")
	}

	if tap.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", tap.Dropped())
	}
}

func TestRunDrainsQueueToSink(t *testing.T) {
	sink := NewMemorySink()
	tap := NewTap(10, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go tap.Run(ctx)

	tap.Offer(models.QueryRecord{ID: "a"})
	tap.Offer(models.QueryRecord{ID: "b"})

	deadline := time.Now().Add(time.Second)
	for len(sink.Records()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	records := sink.Records()
	if len(records) != 2 {
		t.Fatalf("sink has %d records, want 2", len(records))
	}
}

type flakyOnceSink struct {
	failed bool
	got    chan models.QueryRecord
}

func (s *flakyOnceSink) Persist(_ context.Context, record models.QueryRecord) error {
	if !s.failed {
		s.failed = true
		return errTransient
	}
	s.got <- record
	return nil
}

var errTransient = &sinkErr{"transient failure"}

type sinkErr struct{ s string }

func (e *sinkErr) Error() string { return e.s }

func TestDeliverRetriesOnSinkFailure(t *testing.T) {
	sink := &flakyOnceSink{got: make(chan models.QueryRecord, 1)}
	tap := NewTap(10, sink, nil)
	tap.maxBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tap.deliver(ctx, models.QueryRecord{ID: "retry-me"})

	select {
	case record := <-sink.got:
		if record.ID != "retry-me" {
			t.Fatalf("got record %q", record.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("deliver never succeeded after retry")
	}
}
