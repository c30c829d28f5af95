package worker

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/queue/streams"
)

type fakeIngestor struct {
	err  error
	seen []string
}

func (f *fakeIngestor) Process(ctx context.Context, documentID string) error {
	f.seen = append(f.seen, documentID)
	return f.err
}

type fakePending struct {
	ids []string
	err error
}

func (f *fakePending) ListStalePending(ctx context.Context, deadline time.Duration) ([]string, error) {
	return f.ids, f.err
}

func newWorker(t *testing.T, ingestor DocumentProcessor, pending PendingLister) (*Processor, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.IngestConfig{
		Stream:        "document.ingest",
		Group:         "docqa-workers",
		RetryCron:     "*/10 * * * *",
		RetryDeadline: 15 * time.Minute,
	}
	if err := streams.EnsureGroup(context.Background(), client, cfg.Stream, cfg.Group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	p := NewProcessor(
		streams.NewConsumer(client, cfg.Group, "worker-1"),
		streams.NewPublisher(client),
		ingestor, pending, client, cfg,
		log.New(log.Writer(), "[TEST] ", 0),
	)
	return p, client, mr
}

func TestPollProcessesAndAcks(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{}
	p, client, _ := newWorker(t, ingestor, &fakePending{})

	pub := streams.NewPublisher(client)
	if _, err := pub.PublishIngest(ctx, "document.ingest", "doc-1", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := p.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ingestor.seen) != 1 || ingestor.seen[0] != "doc-1" {
		t.Fatalf("document not processed: %v", ingestor.seen)
	}

	pending, err := client.XPending(ctx, "document.ingest", "docqa-workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("message not acked: %+v", pending)
	}
}

func TestPollRequeuesFailuresUpToMaxAttempts(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{err: errors.New("fetch timeout")}
	p, client, _ := newWorker(t, ingestor, &fakePending{})

	pub := streams.NewPublisher(client)
	if _, err := pub.PublishIngest(ctx, "document.ingest", "doc-1", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Each poll consumes one delivery and requeues the next attempt; after
	// the third failure no further attempt is published.
	for i := 0; i < maxAttempts; i++ {
		if err := p.poll(ctx); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	if len(ingestor.seen) != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, len(ingestor.seen))
	}

	if err := p.poll(ctx); err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if len(ingestor.seen) != maxAttempts {
		t.Fatalf("attempts exceeded the cap: %d", len(ingestor.seen))
	}
}

func TestSweepReenqueuesStuckDocuments(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{}
	p, client, _ := newWorker(t, ingestor, &fakePending{ids: []string{"doc-7", "doc-8"}})

	if err := p.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if err := p.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ingestor.seen) != 2 {
		t.Fatalf("expected 2 re-enqueued documents, got %v", ingestor.seen)
	}

	// The lock is released after the sweep.
	if n, _ := client.Exists(ctx, janitorLockKey).Result(); n != 0 {
		t.Fatalf("janitor lock not released")
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	p, client, _ := newWorker(t, &fakeIngestor{}, &fakePending{ids: []string{"doc-7"}})

	if err := client.Set(ctx, janitorLockKey, "other-instance", time.Minute).Err(); err != nil {
		t.Fatalf("set lock: %v", err)
	}
	if err := p.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	msgs, err := client.XLen(ctx, "document.ingest").Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if msgs != 0 {
		t.Fatalf("locked sweep must not publish, found %d entries", msgs)
	}
}
