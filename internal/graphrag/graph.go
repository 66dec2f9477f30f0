// File path: internal/graphrag/graph.go
package graphrag

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/oolong-labs/teaqa/internal/common"
	"github.com/oolong-labs/teaqa/internal/store"
)

// EntityNode is a named entity with the chunks that mention it. Nodes are
// keyed by the normalized entity name; Name preserves the first surface form
// seen.
type EntityNode struct {
	Name     string
	Mentions map[string]struct{}
}

// Edge is a directed labeled relation between two entities.
type Edge struct {
	Subject   string
	Predicate string
	Object    string
}

// Graph is the in-memory entity graph synthesized from chunk triplets.
// Reads take the read lock; ingestion and community rebuilds take the write
// lock so readers fall back cleanly mid-rebuild.
type Graph struct {
	mu        sync.RWMutex
	extractor *Extractor

	nodes map[string]*EntityNode
	edges map[Edge]struct{}
	// adjacency over normalized names, undirected view for communities
	neighbors map[string]map[string]struct{}
	// chunk id -> normalized entity names, for source removal
	chunkEntities map[string]map[string]struct{}
	// chunk id -> source, so RemoveSource can find its chunks
	chunkSource map[string]string

	communities []Community
	communityOf map[string]int
	summaries   map[int]string
	stale       bool
}

// NewGraph constructs an empty graph that extracts triplets with the given
// extractor.
func NewGraph(extractor *Extractor) *Graph {
	return &Graph{
		extractor:     extractor,
		nodes:         make(map[string]*EntityNode),
		edges:         make(map[Edge]struct{}),
		neighbors:     make(map[string]map[string]struct{}),
		chunkEntities: make(map[string]map[string]struct{}),
		chunkSource:   make(map[string]string),
		summaries:     make(map[int]string),
	}
}

// NormalizeEntity lowercases and collapses whitespace so surface variants of
// the same name merge into one node.
func NormalizeEntity(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// IndexChunks extracts triplets from each chunk and merges them into the
// graph. Extraction failures on individual chunks are returned as warnings;
// the remaining chunks still index. Satisfies ingest.GraphIndexer.
func (g *Graph) IndexChunks(ctx context.Context, chunks []store.Chunk) []string {
	logger := common.Logger()
	var warnings []string
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			warnings = append(warnings, "graph indexing cancelled: "+err.Error())
			return warnings
		}
		triplets, parseWarnings, err := g.extractor.Extract(ctx, chunk.Text)
		warnings = append(warnings, parseWarnings...)
		if err != nil {
			logger.Warn("graphrag: extraction failed for chunk", "chunk", chunk.ID, "error", err)
			warnings = append(warnings, "extraction failed for chunk "+chunk.ID)
			continue
		}
		g.AddTriplets(chunk, triplets)
	}
	return warnings
}

// AddTriplets merges triplets for one chunk into the graph. Entity upserts
// are idempotent: mentions are a set union, repeated edges collapse.
func (g *Graph) AddTriplets(chunk store.Chunk, triplets []Triplet) {
	if len(triplets) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunkSource[chunk.ID] = chunk.Metadata.Source
	for _, triplet := range triplets {
		subject := g.upsertNodeLocked(triplet.Subject, chunk.ID)
		object := g.upsertNodeLocked(triplet.Object, chunk.ID)
		if subject == "" || object == "" {
			continue
		}
		g.edges[Edge{Subject: subject, Predicate: strings.TrimSpace(triplet.Predicate), Object: object}] = struct{}{}
		g.linkLocked(subject, object)
	}
	g.stale = true
}

func (g *Graph) upsertNodeLocked(name, chunkID string) string {
	key := NormalizeEntity(name)
	if key == "" {
		return ""
	}
	node, ok := g.nodes[key]
	if !ok {
		node = &EntityNode{Name: strings.TrimSpace(name), Mentions: make(map[string]struct{})}
		g.nodes[key] = node
	}
	node.Mentions[chunkID] = struct{}{}
	entities, ok := g.chunkEntities[chunkID]
	if !ok {
		entities = make(map[string]struct{})
		g.chunkEntities[chunkID] = entities
	}
	entities[key] = struct{}{}
	return key
}

func (g *Graph) linkLocked(a, b string) {
	if a == b {
		return
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set, ok := g.neighbors[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			g.neighbors[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

// RemoveSource drops every mention belonging to the source's chunks.
// Entities left without mentions are removed along with their edges.
func (g *Graph) RemoveSource(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var orphaned []string
	for chunkID, chunkSource := range g.chunkSource {
		if chunkSource != source {
			continue
		}
		for key := range g.chunkEntities[chunkID] {
			if node, ok := g.nodes[key]; ok {
				delete(node.Mentions, chunkID)
				if len(node.Mentions) == 0 {
					orphaned = append(orphaned, key)
				}
			}
		}
		delete(g.chunkEntities, chunkID)
		delete(g.chunkSource, chunkID)
	}
	for _, key := range orphaned {
		g.removeNodeLocked(key)
	}
	if len(orphaned) > 0 || len(g.chunkSource) == 0 {
		g.stale = true
	}
}

func (g *Graph) removeNodeLocked(key string) {
	delete(g.nodes, key)
	for neighbor := range g.neighbors[key] {
		delete(g.neighbors[neighbor], key)
	}
	delete(g.neighbors, key)
	for edge := range g.edges {
		if edge.Subject == key || edge.Object == key {
			delete(g.edges, edge)
		}
	}
}

// EntityCount returns the number of entity nodes currently in the graph.
func (g *Graph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of distinct relations in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// ResolveEntities matches the query against entity names by normalized
// substring containment and returns the matching nodes ordered by mention
// count, then name, so traversal is deterministic.
func (g *Graph) ResolveEntities(query string) []ResolvedEntity {
	normalized := NormalizeEntity(query)
	if normalized == "" {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	var resolved []ResolvedEntity
	for key, node := range g.nodes {
		if !strings.Contains(normalized, key) && !strings.Contains(key, normalized) {
			continue
		}
		mentions := make([]string, 0, len(node.Mentions))
		for chunkID := range node.Mentions {
			mentions = append(mentions, chunkID)
		}
		sort.Strings(mentions)
		resolved = append(resolved, ResolvedEntity{Key: key, Name: node.Name, Mentions: mentions})
	}
	sort.Slice(resolved, func(i, j int) bool {
		if len(resolved[i].Mentions) != len(resolved[j].Mentions) {
			return len(resolved[i].Mentions) > len(resolved[j].Mentions)
		}
		return resolved[i].Key < resolved[j].Key
	})
	return resolved
}

// ResolvedEntity is a query-matched entity with its mention chunk IDs.
type ResolvedEntity struct {
	Key      string
	Name     string
	Mentions []string
}
