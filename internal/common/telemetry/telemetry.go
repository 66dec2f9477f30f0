// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"expvar"
	"sync"
	"time"
)

var (
	initOnce sync.Once

	retrievalTotal     *expvar.Map
	retrievalCacheHits *expvar.Int
	retrievalLatencyMS *expvar.Int

	embedTotal     *expvar.Map
	embedFallbacks *expvar.Int

	ingestBatchTotal  *expvar.Int
	ingestChunksTotal *expvar.Int
	deleteTotal       *expvar.Int

	graphRebuildTotal *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		retrievalTotal = expvar.NewMap("teaqa_retrieval_total")
		retrievalCacheHits = expvar.NewInt("teaqa_retrieval_cache_hits")
		retrievalLatencyMS = expvar.NewInt("teaqa_retrieval_latency_ms")

		embedTotal = expvar.NewMap("teaqa_embed_total")
		embedFallbacks = expvar.NewInt("teaqa_embed_fallbacks")

		ingestBatchTotal = expvar.NewInt("teaqa_ingest_batches_total")
		ingestChunksTotal = expvar.NewInt("teaqa_ingest_chunks_total")
		deleteTotal = expvar.NewInt("teaqa_delete_total")

		graphRebuildTotal = expvar.NewInt("teaqa_graph_rebuilds_total")
	})
}

// RecordRetrieval tracks one retrieval invocation for the given mode.
func RecordRetrieval(mode string, cached bool, elapsed time.Duration) {
	ensureInit()
	retrievalTotal.Add(mode, 1)
	if cached {
		retrievalCacheHits.Add(1)
	}
	retrievalLatencyMS.Add(elapsed.Milliseconds())
}

// RecordEmbed tracks one embedding call served by the named provider.
// fallback marks calls that were not served by the first provider in the
// chain.
func RecordEmbed(provider string, fallback bool) {
	ensureInit()
	embedTotal.Add(provider, 1)
	if fallback {
		embedFallbacks.Add(1)
	}
}

// RecordIngestBatch tracks a persisted ingestion batch.
func RecordIngestBatch(chunks int) {
	ensureInit()
	ingestBatchTotal.Add(1)
	ingestChunksTotal.Add(int64(chunks))
}

// RecordDelete tracks a delete-by-source operation.
func RecordDelete() {
	ensureInit()
	deleteTotal.Add(1)
}

// RecordGraphRebuild tracks a community rebuild pass.
func RecordGraphRebuild() {
	ensureInit()
	graphRebuildTotal.Add(1)
}
