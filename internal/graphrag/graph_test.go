// File path: internal/graphrag/graph_test.go
package graphrag

import (
	"context"
	"strings"
	"testing"

	"github.com/oolong-labs/teaqa/internal/store"
)

func chunkWith(id, source string) store.Chunk {
	return store.Chunk{ID: id, Metadata: store.Metadata{Source: source}}
}

func TestParseTriplets(t *testing.T) {
	output := `(Green Tea; is made from; Camellia sinensis)
some commentary the model added
(Oxidation; darkens; tea leaves)
(malformed; line)
(; empty; subject)
`
	triplets, warnings := ParseTriplets(output)
	if len(triplets) != 2 {
		t.Fatalf("expected 2 triplets, got %d: %+v", len(triplets), triplets)
	}
	if triplets[0].Subject != "Green Tea" || triplets[0].Predicate != "is made from" || triplets[0].Object != "Camellia sinensis" {
		t.Fatalf("unexpected first triplet: %+v", triplets[0])
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings for malformed lines, got %d: %v", len(warnings), warnings)
	}
}

func TestParseTripletsCap(t *testing.T) {
	var builder strings.Builder
	for i := 0; i < 25; i++ {
		builder.WriteString("(subject; relates to; object)\n")
	}
	triplets, _ := ParseTriplets(builder.String())
	if len(triplets) != maxTripletsPerChunk {
		t.Fatalf("expected cap of %d triplets, got %d", maxTripletsPerChunk, len(triplets))
	}
}

func TestAddTripletsMergesIdempotently(t *testing.T) {
	g := NewGraph(nil)
	chunk := chunkWith("c1", "doc1")
	triplets := []Triplet{
		{Subject: "Green Tea", Predicate: "requires", Object: "Withering"},
		{Subject: "green tea", Predicate: "requires", Object: "withering"},
	}
	g.AddTriplets(chunk, triplets)
	g.AddTriplets(chunk, triplets)

	if g.EntityCount() != 2 {
		t.Fatalf("expected 2 entities after normalization, got %d", g.EntityCount())
	}
	if g.EdgeCount() != 1 {
		t.Fatalf("expected 1 distinct edge, got %d", g.EdgeCount())
	}
	resolved := g.ResolveEntities("green tea")
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved entity, got %d", len(resolved))
	}
	if len(resolved[0].Mentions) != 1 || resolved[0].Mentions[0] != "c1" {
		t.Fatalf("mentions not deduplicated: %v", resolved[0].Mentions)
	}
}

func TestRemoveSourceDropsOrphanedEntities(t *testing.T) {
	g := NewGraph(nil)
	g.AddTriplets(chunkWith("c1", "doc1"), []Triplet{
		{Subject: "Withering", Predicate: "precedes", Object: "Rolling"},
	})
	g.AddTriplets(chunkWith("c2", "doc2"), []Triplet{
		{Subject: "Rolling", Predicate: "precedes", Object: "Firing"},
	})

	g.RemoveSource("doc1")
	if g.EntityCount() != 2 {
		t.Fatalf("expected withering to be dropped, got %d entities", g.EntityCount())
	}
	if len(g.ResolveEntities("withering")) != 0 {
		t.Fatal("withering should be gone after its only source was removed")
	}
	if len(g.ResolveEntities("rolling")) != 1 {
		t.Fatal("rolling is still mentioned by doc2 and should remain")
	}
}

func TestRebuildCommunitiesPartitionsEveryEntity(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(nil)
	// two disconnected clusters
	g.AddTriplets(chunkWith("c1", "doc1"), []Triplet{
		{Subject: "Green Tea", Predicate: "requires", Object: "Steaming"},
		{Subject: "Steaming", Predicate: "halts", Object: "Oxidation"},
	})
	g.AddTriplets(chunkWith("c2", "doc2"), []Triplet{
		{Subject: "Teapot", Predicate: "is made of", Object: "Clay"},
	})

	communities, err := g.RebuildCommunities(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	seen := make(map[string]int)
	for _, community := range communities {
		for _, entity := range community.Entities {
			seen[entity]++
		}
	}
	if len(seen) != g.EntityCount() {
		t.Fatalf("partition covers %d of %d entities", len(seen), g.EntityCount())
	}
	for entity, count := range seen {
		if count != 1 {
			t.Fatalf("entity %q appears in %d communities", entity, count)
		}
	}
	if g.Stale() {
		t.Fatal("graph should not be stale after rebuild")
	}

	// deterministic across rebuilds
	again, err := g.RebuildCommunities(ctx)
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if len(again) != len(communities) {
		t.Fatalf("community count changed across rebuilds: %d vs %d", len(communities), len(again))
	}
}

func TestTryQueryScoresByMentionFrequency(t *testing.T) {
	g := NewGraph(nil)
	g.AddTriplets(chunkWith("c1", "doc1"), []Triplet{
		{Subject: "Oolong", Predicate: "undergoes", Object: "Partial Oxidation"},
	})
	g.AddTriplets(chunkWith("c2", "doc1"), []Triplet{
		{Subject: "Oolong", Predicate: "is", Object: "Tea"},
	})

	result, ok := g.TryQuery("how is oolong made")
	if !ok {
		t.Fatal("expected query to acquire the read lock")
	}
	if len(result.Entities) == 0 {
		t.Fatal("expected oolong to resolve")
	}
	if result.Entities[0].Key != "oolong" {
		t.Fatalf("expected oolong first, got %s", result.Entities[0].Key)
	}
	if result.ChunkScores["c1"] == 0 || result.ChunkScores["c2"] == 0 {
		t.Fatalf("expected both mention chunks scored: %v", result.ChunkScores)
	}
}
