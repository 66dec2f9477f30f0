// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oolong-labs/teaqa/internal/fusion"
	"github.com/oolong-labs/teaqa/internal/graphrag"
	"github.com/oolong-labs/teaqa/internal/ingest"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
	"github.com/oolong-labs/teaqa/internal/orchestrator"
	"github.com/oolong-labs/teaqa/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, 8)
		for j, r := range text {
			vec[(j+int(r))%8] += 1
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	local := store.NewLocal()
	embedder := stubEmbedder{}
	provider := providers.NewLocalProvider()
	graph := graphrag.NewGraph(graphrag.NewExtractor(provider))
	engine := fusion.NewEngine(local, embedder, fusion.WithGraph(graph))
	pipeline := ingest.NewPipeline(ingest.NewChunker(256, 32), embedder, local,
		ingest.WithInvalidator(engine),
	)
	orch := orchestrator.New(engine, provider)
	srv, err := NewServer(Deps{
		Pipeline:     pipeline,
		Engine:       engine,
		Orchestrator: orch,
		Store:        local,
		Graph:        graph,
		Provider:     provider,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func ingestDocument(t *testing.T, srv *Server, source, text string) {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{
		"documents": []map[string]string{{"source": source, "text": text}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("ingest status: %d body: %s", rr.Code, rr.Body.String())
	}
	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/ingest/jobs/"+accepted.JobID, nil)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("job status: %d", rr.Code)
		}
		var job struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status == "completed" {
			return
		}
		if job.Status == "failed" {
			t.Fatalf("ingest job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatal("ingest job did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIngestAndSearch(t *testing.T) {
	srv := newTestServer(t)
	ingestDocument(t, srv, "process.md", "Withering reduces moisture. Rolling shapes the leaf.")

	body, _ := json.Marshal(map[string]interface{}{"query": "withering moisture", "mode": "keyword"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("search status: %d body: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Chunks  []json.RawMessage `json:"chunks"`
		Sources []string          `json:"sources"`
		Mode    string            `json:"mode"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected search hits")
	}
	if result.Mode != "keyword" {
		t.Fatalf("unexpected mode %q", result.Mode)
	}
	if len(result.Sources) == 0 || result.Sources[0] != "process.md" {
		t.Fatalf("unexpected sources: %v", result.Sources)
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ingestDocument(t, srv, "process.md", "Withering reduces moisture in tea leaves.")

	body, _ := json.Marshal(map[string]interface{}{
		"question": "what does withering do",
		"mode":     "keyword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("query status: %d body: %s", rr.Code, rr.Body.String())
	}
	var result orchestrator.AnswerResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode query: %v", err)
	}
	if result.Answer == "" {
		t.Fatal("expected an answer")
	}
	if len(result.Sources) == 0 {
		t.Fatal("expected cited sources")
	}
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{"question": "hi", "mode": "telepathy"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", rr.Code)
	}
}

func TestDeleteSourceEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ingestDocument(t, srv, "doc.md", "Steeping time affects flavor balance.")

	req := httptest.NewRequest(http.MethodDelete, "/api/sources/doc.md", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status: %d body: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if resp.Removed == 0 {
		t.Fatal("expected chunks removed")
	}

	// the deleted source no longer surfaces in search
	body, _ := json.Marshal(map[string]interface{}{"query": "steeping flavor", "mode": "keyword"})
	searchReq := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	searchRR := httptest.NewRecorder()
	srv.ServeHTTP(searchRR, searchReq)
	var result struct {
		Chunks []json.RawMessage `json:"chunks"`
	}
	if err := json.NewDecoder(searchRR.Body).Decode(&result); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected no hits after deletion, got %d", len(result.Chunks))
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if _, ok := status["store_available"]; !ok {
		t.Fatal("expected store_available field")
	}
	if _, ok := status["graph_entities"]; !ok {
		t.Fatal("expected graph_entities field")
	}
}

func TestGraphRebuildEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/graph/rebuild", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("rebuild status: %d body: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", rr.Code)
	}
}
