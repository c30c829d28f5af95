package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/queue/streams"
)

const (
	maxAttempts    = 3
	janitorLockKey = "docqa:janitor:lock"
	janitorLockTTL = 2 * time.Minute
)

// DocumentProcessor handles one document end to end.
type DocumentProcessor interface {
	Process(ctx context.Context, documentID string) error
}

// PendingLister finds documents stuck in pending state.
type PendingLister interface {
	ListStalePending(ctx context.Context, deadline time.Duration) ([]string, error)
}

// Processor consumes ingestion requests from the Redis stream and drives
// documents through the ingestor. A cron janitor re-enqueues documents that
// got stuck in pending, guarded by a distributed lock so only one instance
// sweeps at a time.
type Processor struct {
	consumer  *streams.Consumer
	publisher *streams.Publisher
	ingestor  DocumentProcessor
	pending   PendingLister
	rdb       *redis.Client
	cfg       config.IngestConfig
	logger    *log.Logger
}

func NewProcessor(consumer *streams.Consumer, publisher *streams.Publisher, ingestor DocumentProcessor, pending PendingLister, rdb *redis.Client, cfg config.IngestConfig, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Processor{
		consumer:  consumer,
		publisher: publisher,
		ingestor:  ingestor,
		pending:   pending,
		rdb:       rdb,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming ingestion requests until the context is canceled.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Printf("worker consuming stream %s as group %s", p.cfg.Stream, p.cfg.Group)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Printf("poll failed: %v", err)
			time.Sleep(time.Second)
		}
	}
}

// poll performs one read-handle-ack cycle.
func (p *Processor) poll(ctx context.Context) error {
	msgs, err := p.consumer.Read(ctx, p.cfg.Stream, streams.WithBlock(5*time.Second), streams.WithCount(10))
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		p.handle(ctx, msg)
		if err := p.consumer.Ack(ctx, p.cfg.Stream, msg.ID); err != nil {
			p.logger.Printf("ack %s: %v", msg.ID, err)
		}
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	if msg.Envelope.EventType != streams.EventIngestRequested {
		p.logger.Printf("skipping unknown event %s", msg.Envelope.EventType)
		return
	}
	var payload streams.IngestRequest
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil || payload.DocumentID == "" {
		p.logger.Printf("skipping malformed ingest payload in %s", msg.ID)
		return
	}

	if err := p.ingestor.Process(ctx, payload.DocumentID); err != nil {
		p.logger.Printf("ingest %s failed (attempt %d): %v", payload.DocumentID, msg.Envelope.Attempt, err)
		if msg.Envelope.Attempt+1 < maxAttempts {
			if _, err := p.publisher.PublishIngest(ctx, p.cfg.Stream, payload.DocumentID, msg.Envelope.Attempt+1); err != nil {
				p.logger.Printf("requeue %s: %v", payload.DocumentID, err)
			}
		}
	}
}

// RunJanitor blocks, sweeping for stuck documents on the configured cron
// schedule until the context is canceled.
func (p *Processor) RunJanitor(ctx context.Context) error {
	expr, err := cronexpr.Parse(p.cfg.RetryCron)
	if err != nil {
		return err
	}
	for {
		next := expr.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := p.sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Printf("janitor sweep failed: %v", err)
		}
	}
}

// sweep re-enqueues every document stuck in pending longer than the retry
// deadline. The Redis lock keeps concurrent instances from double-sweeping.
func (p *Processor) sweep(ctx context.Context) error {
	if p.rdb != nil {
		ok, err := p.rdb.SetNX(ctx, janitorLockKey, "1", janitorLockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer p.rdb.Del(ctx, janitorLockKey)
	}

	ids, err := p.pending.ListStalePending(ctx, p.cfg.RetryDeadline)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := p.publisher.PublishIngest(ctx, p.cfg.Stream, id, 0); err != nil {
			p.logger.Printf("re-enqueue %s: %v", id, err)
			continue
		}
		p.logger.Printf("re-enqueued stuck document %s", id)
	}
	return nil
}
