package common

import (
	"strings"
	"time"
)

// JobStatus describes the lifecycle state of an extraction job.
// Jobs are terminal once completed or failed and are never mutated afterwards.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Properties is the typed property bag carried by nodes and edges.
// Known fields cover the attributes the extraction collaborator reliably
// produces; Extra holds anything else it emits so no evidence is dropped.
type Properties struct {
	Aliases  []string          `json:"aliases,omitempty"`
	Category string            `json:"category,omitempty"`
	Salience float64           `json:"salience,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Merge folds evidence properties into the receiver. New keys are added,
// existing values are preserved unless the evidence explicitly provides a
// replacement.
func (p *Properties) Merge(in Properties) {
	for _, alias := range in.Aliases {
		found := false
		for _, existing := range p.Aliases {
			if strings.EqualFold(existing, alias) {
				found = true
				break
			}
		}
		if !found {
			p.Aliases = append(p.Aliases, alias)
		}
	}
	if in.Category != "" {
		p.Category = in.Category
	}
	if in.Salience > p.Salience {
		p.Salience = in.Salience
	}
	if len(in.Extra) > 0 {
		if p.Extra == nil {
			p.Extra = make(map[string]string, len(in.Extra))
		}
		for k, v := range in.Extra {
			if v == "" {
				continue
			}
			p.Extra[k] = v
		}
	}
}

// Node represents an entity in a project's knowledge graph. A node can be an
// organization, person, location, or any other relevant concept extracted
// from documents.
//
// At most one live node exists per (project, entity type, normalized name);
// repeated mentions merge into the existing node instead of creating a new
// one.
type Node struct {
	ID                string     `json:"id"`
	ProjectID         int64      `json:"project_id"`
	EntityType        string     `json:"entity_type"`
	Name              string     `json:"name"`
	NormalizedName    string     `json:"normalized_name"`
	Description       string     `json:"description"`
	Properties        Properties `json:"properties"`
	MentionCount      int        `json:"mention_count"`
	Confidence        float64    `json:"confidence"`
	SourceDocumentIDs []string   `json:"source_document_ids"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Edge represents a directed, weighted relationship between two nodes of the
// same project. Weight accumulates with repeated evidence; evidence snippets
// are kept as a bounded FIFO list.
type Edge struct {
	ID                string     `json:"id"`
	ProjectID         int64      `json:"project_id"`
	SourceNodeID      string     `json:"source_node_id"`
	TargetNodeID      string     `json:"target_node_id"`
	RelationshipType  string     `json:"relationship_type"`
	Weight            float64    `json:"weight"`
	Properties        Properties `json:"properties"`
	EvidenceSnippets  []string   `json:"evidence_snippets"`
	SourceDocumentIDs []string   `json:"source_document_ids"`
	AiDiscovered      bool       `json:"ai_discovered"`
	Confidence        float64    `json:"confidence"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Insight is a derived, human-reviewable observation about graph structure.
// Insights are created only by the discovery scan and afterwards mutate only
// via the dismiss/confirm flags; they are never deleted.
type Insight struct {
	ID          string    `json:"id"`
	ProjectID   int64     `json:"project_id"`
	UserID      int64     `json:"user_id"`
	InsightType string    `json:"insight_type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	NodeIDs     []string  `json:"node_ids"`
	EdgeIDs     []string  `json:"edge_ids"`
	DocumentIDs []string  `json:"document_ids"`
	Confidence  float64   `json:"confidence"`
	Dismissed   bool      `json:"dismissed"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExtractionJob records the lifecycle of one document extraction for
// observability. Traversal never consults the job log.
type ExtractionJob struct {
	ID                   string     `json:"id"`
	ProjectID            int64      `json:"project_id"`
	DocumentID           string     `json:"document_id"`
	UserID               int64      `json:"user_id"`
	Status               JobStatus  `json:"status"`
	EntitiesExtracted    int        `json:"entities_extracted"`
	RelationshipsCreated int        `json:"relationships_created"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// NormalizeName canonicalizes an entity name into the merge key form:
// lower-cased, interior whitespace collapsed, surrounding whitespace trimmed.
// "Acme Corp" and "ACME  CORP" normalize to the same key.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// MergeConfidence recomputes a node or edge confidence after corroborating
// evidence arrives. The damped approach toward 1.0 keeps the result in
// [0,1] and is strictly non-decreasing for evidence confidence >= 0, so
// corroboration can never lower confidence.
func MergeConfidence(current, evidence float64) float64 {
	if current < 0 {
		current = 0
	}
	if current > 1 {
		current = 1
	}
	if evidence < 0 {
		evidence = 0
	}
	if evidence > 1 {
		evidence = 1
	}
	merged := current + (1-current)*evidence*0.25
	if merged < current {
		return current
	}
	if merged > 1 {
		return 1
	}
	return merged
}

// AppendDocumentID adds a document ID to a deduplicated set, preserving
// insertion order.
func AppendDocumentID(ids []string, id string) []string {
	if id == "" {
		return ids
	}
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// AppendSnippet appends an evidence snippet to a FIFO list capped at max,
// evicting the oldest entries on overflow.
func AppendSnippet(snippets []string, snippet string, max int) []string {
	if snippet == "" || max <= 0 {
		return snippets
	}
	snippets = append(snippets, snippet)
	if len(snippets) > max {
		snippets = snippets[len(snippets)-max:]
	}
	return snippets
}
