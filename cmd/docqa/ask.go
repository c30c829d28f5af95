package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/agent/core"
	"github.com/docqa-ai/docqa/internal/memory"
	"github.com/docqa-ai/docqa/internal/retrieval"
	"github.com/docqa-ai/docqa/internal/store"
	"github.com/docqa-ai/docqa/provider"
	"github.com/docqa-ai/docqa/tools/websearch"
)

// askCMD answers a single question from the terminal without starting the
// HTTP server. Useful for smoke-testing a fresh deployment.
func askCMD() *cobra.Command {
	var cfgPath string
	var route string
	var showTrace bool

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runAsk(cfg, strings.Join(args, " "), route, showTrace)
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	ask.Flags().StringVar(&route, "route", "", "force route (documents or web)")
	ask.Flags().BoolVar(&showTrace, "trace", false, "print routing and retrieval trace")

	return ask
}

func runAsk(cfg *config.Config, question, route string, showTrace bool) error {
	ctx := context.Background()
	logger := log.New(os.Stderr, "[ASK] ", 0)

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

	searcher, err := websearch.New(cfg.WebSearch)
	if err != nil {
		return err
	}

	retriever, err := retrieval.NewHybrid(llm, st, cfg.Retrieval, logger)
	if err != nil {
		return err
	}

	router := core.NewRouter(retriever, searcher != nil, cfg.Routing, logger)
	base := core.AgentConfig{
		TopK:             cfg.Retrieval.TopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
		WebTimeout:       cfg.WebSearch.Timeout,
		GenerateTimeout:  cfg.LLM.Timeout,
	}
	selector, err := core.NewSelector(router, retriever, searcher, llm, memory.NewInMemory(cfg.Memory.MaxTurns), base, logger)
	if err != nil {
		return err
	}

	result := selector.Ask(ctx, core.Request{
		Question:   question,
		ForceRoute: core.Route(route),
	}, core.Hints{})
	if result.Err != nil {
		return result.Err
	}

	if showTrace {
		for _, line := range result.Response.Trace {
			fmt.Fprintln(os.Stderr, line)
		}
		fmt.Fprintf(os.Stderr, "strategy: %s\n", result.StrategyUsed)
	}
	fmt.Println(result.Response.Answer)
	return nil
}
