// Package search answers free-text questions with graph-grounded context:
// seed entities are resolved from the query, their neighborhoods expanded,
// seeds joined by shortest paths, and the assembled context handed to the
// answer model.
package search

import (
	"context"
	"sync"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/logger"
	"github.com/latticehq/lattice/backend/pkg/store"
	"github.com/latticehq/lattice/backend/pkg/traverse"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxDepth     = 2
	defaultSeedLimit    = 5
	defaultTokenBudget  = 4000
	defaultPathMaxDepth = 4

	// NoContextAnswer is returned when no seed entity matches the query.
	NoContextAnswer = "No matching entities were found in this project's knowledge graph, so the question cannot be answered from graph context."
)

// Result is one answered graph search.
type Result struct {
	Answer         string                 `json:"answer"`
	Seeds          []common.Node          `json:"seeds"`
	Paths          []*traverse.PathResult `json:"paths,omitempty"`
	Sources        []string               `json:"sources"`
	NoGraphContext bool                   `json:"no_graph_context"`
	Truncated      bool                   `json:"truncated"`
}

// Service runs graph-contextual searches for one store and model
// collaborator.
type Service struct {
	store  store.GraphStore
	engine *traverse.Engine
	client ai.GraphAIClient

	maxDepth        int
	seedLimit       int
	tokenBudget     int
	answerModel     string
	useGraphContext bool
}

type Option func(*Service)

// WithMaxDepth overrides the neighborhood expansion depth.
func WithMaxDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithSeedLimit overrides how many seed entities a query resolves to.
func WithSeedLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.seedLimit = limit
		}
	}
}

// WithTokenBudget overrides the context token budget.
func WithTokenBudget(budget int) Option {
	return func(s *Service) {
		if budget > 0 {
			s.tokenBudget = budget
		}
	}
}

// WithAnswerModel overrides the model used for answer generation.
func WithAnswerModel(model string) Option {
	return func(s *Service) {
		s.answerModel = model
	}
}

// WithGraphContext toggles graph grounding. When disabled, the question
// goes straight to the answer model with no seed resolution or expansion.
func WithGraphContext(enabled bool) Option {
	return func(s *Service) {
		s.useGraphContext = enabled
	}
}

func NewService(st store.GraphStore, engine *traverse.Engine, client ai.GraphAIClient, opts ...Option) *Service {
	s := &Service{
		store:  st,
		engine: engine,
		client: client,

		maxDepth:        defaultMaxDepth,
		seedLimit:       defaultSeedLimit,
		tokenBudget:     defaultTokenBudget,
		useGraphContext: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Search answers a free-text question against a project's graph. A query
// resolving to no seed entities is a valid terminal state, not an error.
func (s *Service) Search(ctx context.Context, projectID int64, query string) (*Result, error) {
	if !s.useGraphContext {
		return s.searchDirect(ctx, query)
	}

	seeds, err := s.resolveSeeds(ctx, projectID, query)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &Result{
			Answer:         NoContextAnswer,
			Seeds:          []common.Node{},
			Sources:        []string{},
			NoGraphContext: true,
		}, nil
	}

	neighborhoods, truncated, err := s.expandSeeds(ctx, projectID, seeds)
	if err != nil {
		return nil, err
	}

	paths := s.connectSeeds(ctx, projectID, seeds)

	nodesByID, sources, err := s.collectContext(ctx, projectID, seeds, neighborhoods, paths)
	if err != nil {
		return nil, err
	}

	graphContext := buildContext(seeds, neighborhoods, paths, nodesByID, s.tokenBudget)

	answerOpts := []ai.GenerateOption{}
	if s.answerModel != "" {
		answerOpts = append(answerOpts, ai.WithModel(s.answerModel))
	}
	answer, err := ai.GenerateAnswer(ctx, s.client, graphContext, query, answerOpts...)
	if err != nil {
		return nil, err
	}

	return &Result{
		Answer:    answer,
		Seeds:     seeds,
		Paths:     paths,
		Sources:   sources,
		Truncated: truncated,
	}, nil
}

// searchDirect hands the question to the answer model without touching the
// graph, for callers that opt out of graph context.
func (s *Service) searchDirect(ctx context.Context, query string) (*Result, error) {
	answerOpts := []ai.GenerateOption{}
	if s.answerModel != "" {
		answerOpts = append(answerOpts, ai.WithModel(s.answerModel))
	}
	answer, err := ai.GenerateDirectAnswer(ctx, s.client, query, answerOpts...)
	if err != nil {
		return nil, err
	}
	return &Result{
		Answer:         answer,
		Seeds:          []common.Node{},
		Sources:        []string{},
		NoGraphContext: true,
	}, nil
}

// resolveSeeds maps the query to starting nodes: exact normalized match
// first, embedding similarity as fallback. An embedding failure downgrades
// to name matching instead of failing the search.
func (s *Service) resolveSeeds(ctx context.Context, projectID int64, query string) ([]common.Node, error) {
	var embedding []float32
	if s.client != nil {
		vec, err := s.client.GenerateEmbedding(ctx, []byte(query))
		if err != nil {
			logger.Warn("query embedding failed, using name matching only", "err", err)
		} else {
			embedding = vec
		}
	}
	return s.store.ResolveSeeds(ctx, projectID, query, embedding, s.seedLimit)
}

// expandSeeds runs one bounded BFS per seed. Seeds are independent, so
// expansions run in parallel.
func (s *Service) expandSeeds(
	ctx context.Context,
	projectID int64,
	seeds []common.Node,
) (map[string]*traverse.NeighborResult, bool, error) {
	neighborhoods := make(map[string]*traverse.NeighborResult, len(seeds))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for _, seed := range seeds {
		seed := seed
		g.Go(func() error {
			result, err := s.engine.Neighbors(gCtx, projectID, seed.ID, s.maxDepth, traverse.Outgoing)
			if err != nil {
				return err
			}
			mu.Lock()
			neighborhoods[seed.ID] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	truncated := false
	for _, result := range neighborhoods {
		if result.Truncated {
			truncated = true
		}
	}
	return neighborhoods, truncated, nil
}

// connectSeeds finds pairwise shortest paths between seed entities. A
// missing path is expected and silently skipped.
func (s *Service) connectSeeds(ctx context.Context, projectID int64, seeds []common.Node) []*traverse.PathResult {
	paths := make([]*traverse.PathResult, 0)
	for i := 0; i < len(seeds); i++ {
		for j := i + 1; j < len(seeds); j++ {
			// Edges are directed; a pair can be connected either way.
			for _, pair := range [][2]string{{seeds[i].ID, seeds[j].ID}, {seeds[j].ID, seeds[i].ID}} {
				path, err := s.engine.ShortestPath(ctx, projectID, pair[0], pair[1], defaultPathMaxDepth)
				if err != nil {
					logger.Warn("seed path search failed",
						"start", pair[0], "end", pair[1], "err", err)
					continue
				}
				if path.Found && len(path.Edges) > 0 {
					paths = append(paths, path)
					break
				}
			}
		}
	}
	return paths
}

// collectContext gathers every node involved in the answer and the
// deduplicated source documents backing them.
func (s *Service) collectContext(
	ctx context.Context,
	projectID int64,
	seeds []common.Node,
	neighborhoods map[string]*traverse.NeighborResult,
	paths []*traverse.PathResult,
) (map[string]common.Node, []string, error) {
	nodesByID := make(map[string]common.Node)
	sources := make([]string, 0)

	addNode := func(node common.Node) {
		if _, ok := nodesByID[node.ID]; ok {
			return
		}
		nodesByID[node.ID] = node
		for _, doc := range node.SourceDocumentIDs {
			sources = common.AppendDocumentID(sources, doc)
		}
	}

	for _, seed := range seeds {
		addNode(seed)
	}
	for _, result := range neighborhoods {
		for _, neighbor := range result.Neighbors {
			addNode(neighbor.Node)
			for _, doc := range neighbor.Edge.SourceDocumentIDs {
				sources = common.AppendDocumentID(sources, doc)
			}
		}
	}
	for _, path := range paths {
		for _, node := range path.Nodes {
			addNode(node)
		}
		for _, edge := range path.Edges {
			for _, doc := range edge.SourceDocumentIDs {
				sources = common.AppendDocumentID(sources, doc)
			}
		}
	}

	// Edges in neighborhoods can reference nodes trimmed from this result
	// set; fetch the stragglers in one batch.
	missing := make([]string, 0)
	for _, result := range neighborhoods {
		for _, neighbor := range result.Neighbors {
			for _, id := range []string{neighbor.Edge.SourceNodeID, neighbor.Edge.TargetNodeID} {
				if _, ok := nodesByID[id]; !ok {
					missing = append(missing, id)
				}
			}
		}
	}
	if len(missing) > 0 {
		nodes, err := s.store.GetNodes(ctx, projectID, store.DedupeStrings(missing))
		if err != nil {
			return nil, nil, err
		}
		for _, node := range nodes {
			addNode(node)
		}
	}

	return nodesByID, sources, nil
}
