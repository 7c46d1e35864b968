package traverse

import (
	"context"
	"sort"

	"github.com/latticehq/lattice/backend/pkg/common"
)

// PathResult is the outcome of a shortest-path search. Found=false is a
// valid negative result, not an error; a found path is always complete.
type PathResult struct {
	Found  bool          `json:"found"`
	Nodes  []common.Node `json:"nodes"`
	Edges  []common.Edge `json:"edges"`
	Length int           `json:"length"`
}

type pathEntry struct {
	nodeID   string
	nodePath []string
	edgePath []common.Edge
}

// ShortestPath finds a hop-count-shortest directed path from startNodeID to
// endNodeID within maxDepth hops. Nodes are marked visited when dequeued, so
// the first arrival at the target is hop-optimal and cyclic graphs
// terminate. Exceeding the visit budget yields not-found, never a partial
// path.
func (e *Engine) ShortestPath(ctx context.Context, projectID int64, startNodeID, endNodeID string, maxDepth int) (*PathResult, error) {
	if maxDepth < 0 {
		return nil, ErrInvalidDepth
	}

	start, err := e.adj.GetNode(ctx, projectID, startNodeID)
	if err != nil {
		return nil, err
	}
	if startNodeID == endNodeID {
		return &PathResult{Found: true, Nodes: []common.Node{*start}, Edges: []common.Edge{}, Length: 0}, nil
	}
	if _, err := e.adj.GetNode(ctx, projectID, endNodeID); err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	frontier := []pathEntry{{nodeID: startNodeID, nodePath: []string{startNodeID}}}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		expand := make([]pathEntry, 0, len(frontier))
		frontierIDs := make([]string, 0, len(frontier))
		for _, entry := range frontier {
			if _, seen := visited[entry.nodeID]; seen {
				continue
			}
			visited[entry.nodeID] = struct{}{}
			expand = append(expand, entry)
			frontierIDs = append(frontierIDs, entry.nodeID)
		}
		if len(visited) > e.budget {
			return &PathResult{Found: false}, nil
		}
		if len(expand) == 0 {
			break
		}

		edges, err := e.fetchLevel(ctx, projectID, frontierIDs, Outgoing)
		if err != nil {
			return nil, err
		}
		bySource := make(map[string][]common.Edge)
		for _, edge := range edges {
			bySource[edge.SourceNodeID] = append(bySource[edge.SourceNodeID], edge)
		}

		next := make([]pathEntry, 0)
		for _, entry := range expand {
			for _, edge := range bySource[entry.nodeID] {
				if _, seen := visited[edge.TargetNodeID]; seen {
					continue
				}
				nodePath := append(append([]string{}, entry.nodePath...), edge.TargetNodeID)
				edgePath := append(append([]common.Edge{}, entry.edgePath...), edge)
				if edge.TargetNodeID == endNodeID {
					return e.materializePath(ctx, projectID, nodePath, edgePath)
				}
				next = append(next, pathEntry{
					nodeID:   edge.TargetNodeID,
					nodePath: nodePath,
					edgePath: edgePath,
				})
			}
		}
		frontier = next
	}

	return &PathResult{Found: false}, nil
}

func (e *Engine) materializePath(ctx context.Context, projectID int64, nodeIDs []string, edges []common.Edge) (*PathResult, error) {
	nodes, err := e.adj.GetNodes(ctx, projectID, nodeIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	ordered := make([]common.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		node, ok := byID[id]
		if !ok {
			// A node on the path vanished between levels; treat the
			// path as gone rather than returning a broken one.
			return &PathResult{Found: false}, nil
		}
		ordered = append(ordered, node)
	}

	return &PathResult{
		Found:  true,
		Nodes:  ordered,
		Edges:  edges,
		Length: len(edges),
	}, nil
}

// ReferenceDistances computes hop distances from startNodeID with a plain
// sequential BFS over the full outgoing adjacency. It exists for tests and
// diagnostics as an oracle for the level-parallel implementation.
func ReferenceDistances(ctx context.Context, adj Adjacency, projectID int64, startNodeID string) (map[string]int, error) {
	distances := map[string]int{startNodeID: 0}
	queue := []string{startNodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		edges, err := adj.OutgoingEdges(ctx, projectID, []string{current})
		if err != nil {
			return nil, err
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
		for _, edge := range edges {
			if _, seen := distances[edge.TargetNodeID]; seen {
				continue
			}
			distances[edge.TargetNodeID] = distances[current] + 1
			queue = append(queue, edge.TargetNodeID)
		}
	}
	return distances, nil
}
