package store

import (
	"context"
	"errors"
	"time"

	"github.com/latticehq/lattice/backend/pkg/common"
)

var (
	// ErrNotFound is returned when a referenced node, edge, insight or job
	// is absent or out of project scope.
	ErrNotFound = errors.New("graph record not found")

	// ErrInvalidEdgeEndpoint is returned when an edge upsert references a
	// missing endpoint or both endpoints are the same node.
	ErrInvalidEdgeEndpoint = errors.New("invalid edge endpoint")
)

const (
	// MaxEvidenceSnippets bounds the per-edge evidence snippet list.
	MaxEvidenceSnippets = 10

	SnapshotNodeLimit    = 100
	SnapshotEdgeLimit    = 200
	SnapshotInsightLimit = 50
)

// NodeEvidence is one piece of extraction evidence supporting a node claim.
type NodeEvidence struct {
	EntityType       string
	Name             string
	Description      string
	Properties       common.Properties
	Confidence       float64
	SourceDocumentID string
	Snippet          string
}

// EdgeEvidence is one piece of extraction evidence supporting an edge claim.
type EdgeEvidence struct {
	RelationshipType string
	Confidence       float64
	Weight           float64
	SourceDocumentID string
	Snippet          string
	AiDiscovered     bool
}

// BatchNode is a candidate entity proposed by the extraction collaborator.
type BatchNode struct {
	Ref         string
	EntityType  string
	Name        string
	Description string
	Properties  common.Properties
	Confidence  float64
	Snippet     string
}

// BatchEdge is a candidate relationship proposed by the extraction
// collaborator. Source and target refs resolve against nodes of the same
// batch.
type BatchEdge struct {
	SourceRef        string
	TargetRef        string
	RelationshipType string
	Confidence       float64
	Weight           float64
	Snippet          string
}

// Batch is everything one extraction job derived from a single document.
// The whole batch commits atomically or not at all.
type Batch struct {
	DocumentID string
	Nodes      []BatchNode
	Edges      []BatchEdge
}

// BatchResult reports what a committed batch merged into the graph.
type BatchResult struct {
	NodesMerged int
	EdgesMerged int
}

// GraphData is the bounded snapshot returned for dashboard-style reads:
// top nodes by mention count, top edges by weight, newest active insights.
type GraphData struct {
	Nodes    []common.Node
	Edges    []common.Edge
	Insights []common.Insight
}

// GraphStore is the single owner and writer of nodes, edges and insights.
// All records are scoped to exactly one project; implementations must reject
// cross-project references.
type GraphStore interface {
	// UpsertNode merges node evidence on the (project, entity type,
	// normalized name) key: on hit it increments the mention count,
	// recomputes confidence monotonically and unions sources; on miss it
	// creates the node with mention count 1.
	UpsertNode(ctx context.Context, projectID int64, ev NodeEvidence) (*common.Node, error)

	// UpsertEdge merges edge evidence on the (project, source, target,
	// relationship type) key, accumulating weight. It fails with
	// ErrInvalidEdgeEndpoint on self-loops or missing endpoints.
	UpsertEdge(ctx context.Context, projectID int64, sourceNodeID, targetNodeID string, ev EdgeEvidence) (*common.Edge, error)

	// MergeBatch commits all nodes and edges of one extraction batch in a
	// single transaction. A failed batch leaves the graph unchanged.
	MergeBatch(ctx context.Context, projectID int64, batch Batch) (*BatchResult, error)

	GetNode(ctx context.Context, projectID int64, nodeID string) (*common.Node, error)
	GetNodes(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Node, error)

	// ListNodes pages through a project's nodes ordered by mention count
	// descending. The second return value is the total node count.
	ListNodes(ctx context.Context, projectID int64, page, pageSize int) ([]common.Node, int, error)

	// OutgoingEdges returns all edges whose source is in sourceNodeIDs,
	// one indexed query per traversal level.
	OutgoingEdges(ctx context.Context, projectID int64, sourceNodeIDs []string) ([]common.Edge, error)

	// TouchingEdges returns all edges with either endpoint in nodeIDs.
	// This is the undirected adjacency used by insight discovery.
	TouchingEdges(ctx context.Context, projectID int64, nodeIDs []string) ([]common.Edge, error)

	// EdgesCreatedAfter returns a project's edges newer than the watermark,
	// oldest first.
	EdgesCreatedAfter(ctx context.Context, projectID int64, watermark time.Time) ([]common.Edge, error)

	// AllEdges returns every edge of a project. Projects are sized for tens
	// of thousands of nodes, so a full edge scan stays bounded.
	AllEdges(ctx context.Context, projectID int64) ([]common.Edge, error)

	GetGraphData(ctx context.Context, projectID int64) (*GraphData, error)

	// ResolveSeeds maps a free-text query to matching nodes: exact
	// normalized-name match first, then embedding similarity when an
	// embedding is provided.
	ResolveSeeds(ctx context.Context, projectID int64, query string, embedding []float32, limit int) ([]common.Node, error)

	// CreateInsights persists the given insights, dropping any whose
	// signature (type + involved nodes) collides with an existing
	// non-dismissed insight, and advances the project's scan watermark.
	// It returns only the insights actually created.
	CreateInsights(ctx context.Context, projectID int64, insights []common.Insight, watermark time.Time) ([]common.Insight, error)

	InsightWatermark(ctx context.Context, projectID int64) (time.Time, error)
	ActiveInsights(ctx context.Context, projectID int64, page, pageSize int) ([]common.Insight, int, error)
	DismissInsight(ctx context.Context, projectID int64, insightID string) error
	ConfirmInsight(ctx context.Context, projectID int64, insightID string) error

	CreateExtractionJob(ctx context.Context, job *common.ExtractionJob) error

	// ClaimExtractionJob transitions a job from pending to processing.
	// It reports false when the job was already claimed or is terminal.
	ClaimExtractionJob(ctx context.Context, jobID string) (bool, error)

	// CompleteExtractionJob and FailExtractionJob finish a processing job.
	// Completed and failed are terminal: finishing an already terminal job
	// is a no-op, so a late failure cannot rewrite a completed job.
	CompleteExtractionJob(ctx context.Context, jobID string, entities, relationships int) error
	FailExtractionJob(ctx context.Context, jobID string, message string) error
	GetExtractionJob(ctx context.Context, jobID string) (*common.ExtractionJob, error)

	// ListExtractionJobs pages through a project's job log, newest first.
	ListExtractionJobs(ctx context.Context, projectID int64, page, pageSize int) ([]common.ExtractionJob, int, error)
}
