// File path: internal/graphrag/community.go
package graphrag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/common/telemetry"
	"github.com/oolong-labs/teaqa/internal/llm/providers"
)

const maxPropagationRounds = 20

// Community is a connected cluster of entities discovered by label
// propagation. Every entity belongs to exactly one community.
type Community struct {
	ID       int      `json:"id"`
	Entities []string `json:"entities"`
	Chunks   []string `json:"chunks"`
}

// QueryResult is what graph-mode retrieval needs from the graph: the
// entities the query resolved to and candidate chunk IDs scored by how many
// resolved entities mention them.
type QueryResult struct {
	Entities    []ResolvedEntity
	ChunkScores map[string]int
}

// RebuildCommunities recomputes communities with synchronous label
// propagation over the undirected entity adjacency. It holds the write lock
// for the duration; concurrent graph-mode queries fall back to hybrid
// retrieval instead of blocking.
func (g *Graph) RebuildCommunities(ctx context.Context) ([]Community, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	labels := make(map[string]string, len(keys))
	for _, key := range keys {
		labels[key] = key
	}
	for round := 0; round < maxPropagationRounds; round++ {
		changed := false
		for _, key := range keys {
			best := dominantLabel(labels, g.neighbors[key], labels[key])
			if best != labels[key] {
				labels[key] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	grouped := make(map[string][]string)
	for _, key := range keys {
		grouped[labels[key]] = append(grouped[labels[key]], key)
	}
	roots := make([]string, 0, len(grouped))
	for root := range grouped {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	communities := make([]Community, 0, len(roots))
	communityOf := make(map[string]int, len(keys))
	for id, root := range roots {
		members := grouped[root]
		sort.Strings(members)
		chunkSet := make(map[string]struct{})
		for _, member := range members {
			communityOf[member] = id
			for chunkID := range g.nodes[member].Mentions {
				chunkSet[chunkID] = struct{}{}
			}
		}
		chunks := make([]string, 0, len(chunkSet))
		for chunkID := range chunkSet {
			chunks = append(chunks, chunkID)
		}
		sort.Strings(chunks)
		communities = append(communities, Community{ID: id, Entities: members, Chunks: chunks})
	}

	g.communities = communities
	g.communityOf = communityOf
	g.summaries = make(map[int]string)
	g.stale = false
	telemetry.RecordGraphRebuild()
	common.Logger().Info("graphrag: communities rebuilt",
		"entities", len(keys), "communities", len(communities))
	return communities, nil
}

// dominantLabel picks the most frequent label among neighbors, breaking
// ties by lexicographic order so propagation is deterministic. An isolated
// node keeps its own label.
func dominantLabel(labels map[string]string, neighbors map[string]struct{}, current string) string {
	if len(neighbors) == 0 {
		return current
	}
	counts := make(map[string]int, len(neighbors))
	for neighbor := range neighbors {
		counts[labels[neighbor]]++
	}
	best := ""
	bestCount := 0
	for label, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || label < best)) {
			best = label
			bestCount = count
		}
	}
	return best
}

// Stale reports whether the graph changed since the last community rebuild.
func (g *Graph) Stale() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stale
}

// Communities returns the current community partition. It may be stale if
// the graph changed since the last rebuild.
func (g *Graph) Communities() []Community {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Community, len(g.communities))
	copy(out, g.communities)
	return out
}

// TryQuery resolves the query against the graph without blocking. The
// second return is false while a rebuild holds the write lock; callers
// should fall back to hybrid retrieval in that case.
func (g *Graph) TryQuery(query string) (QueryResult, bool) {
	if !g.mu.TryRLock() {
		return QueryResult{}, false
	}
	defer g.mu.RUnlock()

	result := QueryResult{ChunkScores: make(map[string]int)}
	normalized := NormalizeEntity(query)
	if normalized == "" || len(g.nodes) == 0 {
		return result, true
	}
	for key, node := range g.nodes {
		if !strings.Contains(normalized, key) && !strings.Contains(key, normalized) {
			continue
		}
		mentions := make([]string, 0, len(node.Mentions))
		for chunkID := range node.Mentions {
			mentions = append(mentions, chunkID)
			result.ChunkScores[chunkID]++
		}
		sort.Strings(mentions)
		result.Entities = append(result.Entities, ResolvedEntity{Key: key, Name: node.Name, Mentions: mentions})
	}
	sort.Slice(result.Entities, func(i, j int) bool {
		if len(result.Entities[i].Mentions) != len(result.Entities[j].Mentions) {
			return len(result.Entities[i].Mentions) > len(result.Entities[j].Mentions)
		}
		return result.Entities[i].Key < result.Entities[j].Key
	})
	// widen to community siblings so related chunks rank, at lower weight
	for _, entity := range result.Entities {
		id, ok := g.communityOf[entity.Key]
		if !ok || id >= len(g.communities) {
			continue
		}
		for _, chunkID := range g.communities[id].Chunks {
			if _, direct := result.ChunkScores[chunkID]; !direct {
				result.ChunkScores[chunkID] = 0
			}
		}
	}
	return result, true
}

// CommunitySummary returns a cached model-written summary for a community,
// generating it on first request.
func (g *Graph) CommunitySummary(ctx context.Context, id int) (string, error) {
	g.mu.RLock()
	if id < 0 || id >= len(g.communities) {
		g.mu.RUnlock()
		return "", fmt.Errorf("graphrag: unknown community %d", id)
	}
	if cached, ok := g.summaries[id]; ok {
		g.mu.RUnlock()
		return cached, nil
	}
	community := g.communities[id]
	names := make([]string, 0, len(community.Entities))
	for _, key := range community.Entities {
		if node, ok := g.nodes[key]; ok {
			names = append(names, node.Name)
		}
	}
	g.mu.RUnlock()

	prompt := fmt.Sprintf(
		"Write a two sentence summary of the theme connecting these related entities: %s",
		strings.Join(names, ", "))
	summary, err := g.extractor.provider.Chat(ctx, []providers.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("graphrag: summarize community %d: %w", id, err)
	}
	summary = strings.TrimSpace(summary)

	g.mu.Lock()
	if id < len(g.communities) {
		g.summaries[id] = summary
	}
	g.mu.Unlock()
	return summary, nil
}
