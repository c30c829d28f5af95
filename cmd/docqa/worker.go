package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/ingest"
	"github.com/docqa-ai/docqa/internal/queue/streams"
	"github.com/docqa-ai/docqa/internal/store"
	"github.com/docqa-ai/docqa/internal/worker"
	"github.com/docqa-ai/docqa/provider"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var w = &cobra.Command{
		Use:   "worker",
		Short: "Run the document ingestion worker and retry janitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runWorker(cfg)
		},
	}
	w.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return w
}

func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() { _ = st.DB.Close() }()

	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err)
	}
	defer func() { _ = rdb.Close() }()

	if err := streams.EnsureGroup(ctx, rdb, cfg.Ingest.Stream, cfg.Ingest.Group); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := streams.NewConsumer(rdb, cfg.Ingest.Group, consumerName)
	publisher := streams.NewPublisher(rdb)

	// The API process rebuilds its lexical index on staleness, so the
	// worker ingests without an invalidator.
	ingestor := ingest.NewIngestor(st, llm, cfg.Ingest, nil,
		log.New(os.Stdout, "[INGEST] ", log.LstdFlags))

	processor := worker.NewProcessor(consumer, publisher, ingestor, st, rdb, cfg.Ingest, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Run(ctx) })
	g.Go(func() error { return processor.RunJanitor(ctx) })

	logger.Printf("consuming %s as %s", cfg.Ingest.Stream, consumerName)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
