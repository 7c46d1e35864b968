// Package traverse implements BFS neighbor expansion and shortest-path
// search over a stored knowledge graph. The engine holds no graph state of
// its own; adjacency is fetched in batches, one indexed query per level.
package traverse

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/latticehq/lattice/backend/pkg/common"

	"golang.org/x/sync/errgroup"
)

// Direction selects the adjacency mode of a traversal. Neighbor expansion
// and path search are directed; insight connectivity scans are undirected.
type Direction int

const (
	Outgoing Direction = iota
	Undirected
)

// ErrInvalidDepth is returned when a caller passes a negative depth.
var ErrInvalidDepth = errors.New("traversal depth must not be negative")

const (
	// DefaultVisitBudget bounds pathological fan-out: once this many nodes
	// have been visited the traversal stops and reports truncation.
	DefaultVisitBudget = 5000

	defaultFetchChunk = 64
	defaultFanout     = 4
)

// Adjacency is the store capability the engine needs. It is injected
// explicitly so the engine can run against Postgres or the in-memory store.
type Adjacency interface {
	GetNode(ctx context.Context, projectID int64, nodeID string) (*common.Node, error)
	GetNodes(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Node, error)
	OutgoingEdges(ctx context.Context, projectID int64, sourceNodeIDs []string) ([]common.Edge, error)
	TouchingEdges(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Edge, error)
}

// Neighbor is one reachable node together with the edge that first
// discovered it and its BFS distance from the start node.
type Neighbor struct {
	Node     common.Node `json:"node"`
	Edge     common.Edge `json:"edge"`
	Distance int         `json:"distance"`
}

// NeighborResult is the ordered expansion of a node's neighborhood.
// Truncated reports that the visit budget was exhausted or the caller's
// deadline expired before the requested depth was reached.
type NeighborResult struct {
	Neighbors []Neighbor `json:"neighbors"`
	Truncated bool       `json:"truncated"`
}

// Engine runs traversals against an Adjacency source.
type Engine struct {
	adj        Adjacency
	budget     int
	fetchChunk int
	fanout     int
}

type EngineOption func(*Engine)

// WithVisitBudget overrides the visited-node budget.
func WithVisitBudget(budget int) EngineOption {
	return func(e *Engine) {
		if budget > 0 {
			e.budget = budget
		}
	}
}

// WithFetchChunk overrides how many frontier nodes are grouped into one
// adjacency query.
func WithFetchChunk(chunk int) EngineOption {
	return func(e *Engine) {
		if chunk > 0 {
			e.fetchChunk = chunk
		}
	}
}

func NewEngine(adj Adjacency, opts ...EngineOption) *Engine {
	e := &Engine{
		adj:        adj,
		budget:     DefaultVisitBudget,
		fetchChunk: defaultFetchChunk,
		fanout:     defaultFanout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(e)
	}
	return e
}

// Neighbors expands the neighborhood of nodeID up to depth hops, reporting
// each reachable node once at its minimum discovered distance. depth 0
// yields an empty result. Results are ordered by level, then edge weight
// descending, then edge ID for determinism.
//
// On cancellation or budget exhaustion the best-known partial result is
// returned with Truncated set.
func (e *Engine) Neighbors(ctx context.Context, projectID int64, nodeID string, depth int, dir Direction) (*NeighborResult, error) {
	if depth < 0 {
		return nil, ErrInvalidDepth
	}

	start, err := e.adj.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return nil, err
	}

	result := &NeighborResult{Neighbors: make([]Neighbor, 0)}
	if depth == 0 {
		return result, nil
	}

	visited := map[string]struct{}{start.ID: {}}
	frontier := []string{start.ID}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		if ctx.Err() != nil {
			result.Truncated = true
			return result, nil
		}

		edges, err := e.fetchLevel(ctx, projectID, frontier, dir)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Truncated = true
				return result, nil
			}
			return nil, err
		}

		next := make([]string, 0)
		discovered := make(map[string]common.Edge)
		for _, edge := range edges {
			target := edge.TargetNodeID
			if dir == Undirected {
				if _, seen := visited[target]; seen {
					target = edge.SourceNodeID
				}
			}
			if _, seen := visited[target]; seen {
				continue
			}
			if _, dup := discovered[target]; dup {
				continue
			}
			discovered[target] = edge
			next = append(next, target)
		}

		nodes, err := e.adj.GetNodes(ctx, projectID, next)
		if err != nil {
			return nil, err
		}
		nodeByID := make(map[string]common.Node, len(nodes))
		for _, n := range nodes {
			nodeByID[n.ID] = n
		}

		for _, id := range next {
			node, ok := nodeByID[id]
			if !ok {
				continue
			}
			visited[id] = struct{}{}
			result.Neighbors = append(result.Neighbors, Neighbor{
				Node:     node,
				Edge:     discovered[id],
				Distance: level,
			})
			if len(visited) > e.budget {
				result.Truncated = true
				return result, nil
			}
		}

		frontier = next
	}

	return result, nil
}

// fetchLevel loads the adjacency of one BFS level. Frontier chunks are
// independent, so they are fetched in parallel and merged into a single
// deterministic order (weight desc, edge ID asc) before the next level.
func (e *Engine) fetchLevel(ctx context.Context, projectID int64, frontier []string, dir Direction) ([]common.Edge, error) {
	chunks := make([][]string, 0, len(frontier)/e.fetchChunk+1)
	for start := 0; start < len(frontier); start += e.fetchChunk {
		end := start + e.fetchChunk
		if end > len(frontier) {
			end = len(frontier)
		}
		chunks = append(chunks, frontier[start:end])
	}

	edges := make([]common.Edge, 0)
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.fanout)
	for _, chunk := range chunks {
		ids := chunk
		g.Go(func() error {
			var part []common.Edge
			var err error
			switch dir {
			case Undirected:
				part, err = e.adj.TouchingEdges(gCtx, projectID, ids)
			default:
				part, err = e.adj.OutgoingEdges(gCtx, projectID, ids)
			}
			if err != nil {
				return err
			}
			mu.Lock()
			edges = append(edges, part...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight == edges[j].Weight {
			return edges[i].ID < edges[j].ID
		}
		return edges[i].Weight > edges[j].Weight
	})
	return edges, nil
}
