// File path: cmd/teaqa/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/oolong-labs/teaqa/internal/api"
	"github.com/oolong-labs/teaqa/internal/catalog"
	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/embed"
	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/graphrag"
	"github.com/oolong-labs/teaqa/internal/ingest"
	"github.com/oolong-labs/teaqa/internal/llm"
	"github.com/oolong-labs/teaqa/internal/orchestrator"
	"github.com/oolong-labs/teaqa/internal/store"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("teaqa: .env file not loaded", "error", err)
	} else {
		logger.Info("teaqa: environment loaded from .env")
	}

	addr := flag.String("addr", ":8084", "listen address")
	journalPath := flag.String("journal", defaultJournalPath(), "path to the local store journal used when elasticsearch is unreachable")
	catalogPath := flag.String("catalog", defaultCatalogPath(), "path to the SQLite source catalog")
	chunkSize := flag.Int("chunk-size", 1024, "target chunk size in characters")
	chunkOverlap := flag.Int("chunk-overlap", 64, "chunk overlap in characters")
	topK := flag.Int("top-k", 5, "default retrieval result count")
	contextBudget := flag.Int("context-budget", 4000, "assembled context budget in characters")
	cacheTTL := flag.String("cache-ttl", "60s", "retrieval cache time to live")
	workers := flag.Int("ingest-workers", 4, "concurrent embedding batches during ingestion")
	flag.Parse()

	logger.Info("teaqa: startup initiated", "addr", *addr)

	chunkStore := buildStore(ctx, *journalPath)
	chain := embed.NewChainFromEnv()
	provider := llm.NewProvider()
	logger.Info("teaqa: llm provider ready", "provider", provider.Name())

	graph := graphrag.NewGraph(graphrag.NewExtractor(provider))

	ttl, err := time.ParseDuration(*cacheTTL)
	if err != nil || ttl <= 0 {
		logger.Warn("teaqa: invalid cache ttl, using 60s", "value", *cacheTTL)
		ttl = time.Minute
	}
	engine := fusion.NewEngine(chunkStore, chain,
		fusion.WithGraph(graph),
		fusion.WithTopK(*topK),
		fusion.WithContextBudget(*contextBudget),
		fusion.WithCacheTTL(ttl),
	)

	var sourceCatalog *catalog.Store
	if trimmed := strings.TrimSpace(*catalogPath); trimmed != "" {
		if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
			logger.Warn("teaqa: catalog directory unavailable", "path", trimmed, "error", err)
		} else if opened, err := catalog.Open(trimmed); err != nil {
			logger.Warn("teaqa: catalog unavailable, continuing without it", "error", err)
		} else {
			sourceCatalog = opened
			defer sourceCatalog.Close()
		}
	}

	pipelineOpts := []ingest.PipelineOption{
		ingest.WithWorkers(*workers),
		ingest.WithInvalidator(engine),
		ingest.WithGraphIndexer(graph),
	}
	if sourceCatalog != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithRecorder(sourceCatalog))
	}
	pipeline := ingest.NewPipeline(
		ingest.NewChunker(*chunkSize, *chunkOverlap),
		chain,
		chunkStore,
		pipelineOpts...,
	)

	orch := orchestrator.New(engine, provider, orchestrator.WithTopK(*topK))

	server, err := api.NewServer(api.Deps{
		Pipeline:     pipeline,
		Engine:       engine,
		Orchestrator: orch,
		Chain:        chain,
		Store:        chunkStore,
		Catalog:      sourceCatalog,
		Graph:        graph,
		Provider:     provider,
	})
	if err != nil {
		logger.Error("teaqa: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("teaqa: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("teaqa: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

// buildStore prefers Elasticsearch and falls back to the journaled local
// store when the backend is unreachable at startup.
func buildStore(ctx context.Context, journalPath string) store.Store {
	logger := common.Logger()
	elastic, err := store.NewElasticFromEnv(ctx)
	if err == nil && elastic.Available() {
		logger.Info("teaqa: elasticsearch store ready")
		return elastic
	}
	if err != nil {
		logger.Warn("teaqa: elasticsearch config invalid", "error", err)
	} else {
		logger.Warn("teaqa: elasticsearch unreachable, using local store")
	}
	if strings.TrimSpace(journalPath) != "" {
		local, err := store.NewLocalWithJournal(journalPath)
		if err == nil {
			logger.Info("teaqa: local store ready", "journal", journalPath)
			return local
		}
		logger.Warn("teaqa: journal unavailable, using in-memory store", "error", err)
	}
	return store.NewLocal()
}

func defaultJournalPath() string {
	return filepath.Join("data", "chunks.jsonl")
}

func defaultCatalogPath() string {
	return filepath.Join("data", "catalog.db")
}
