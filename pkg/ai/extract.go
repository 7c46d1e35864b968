package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"
)

// DefaultEntityTypes is the extraction vocabulary used when a project does
// not configure its own.
var DefaultEntityTypes = []string{
	"PERSON",
	"ORGANIZATION",
	"LOCATION",
	"PRODUCT",
	"EVENT",
	"CONCEPT",
}

// ProposedEntity is one candidate entity returned by the extraction model.
type ProposedEntity struct {
	Name            string   `json:"name"`
	EntityType      string   `json:"entity_type"`
	Description     string   `json:"description"`
	Confidence      float64  `json:"confidence"`
	EvidenceSnippet string   `json:"evidence_snippet"`
	Aliases         []string `json:"aliases,omitempty"`
	Category        string   `json:"category,omitempty"`
}

// ProposedRelationship is one candidate relationship returned by the
// extraction model. Source and Target name entities of the same proposal.
type ProposedRelationship struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	EvidenceSnippet  string  `json:"evidence_snippet"`
}

// GraphProposal is the structured extraction output for one document.
type GraphProposal struct {
	Entities      []ProposedEntity       `json:"entities"`
	Relationships []ProposedRelationship `json:"relationships"`
}

// ProposeGraph asks the extraction model for the entities and relationships
// of one document. entityTypes defaults to DefaultEntityTypes when empty.
func ProposeGraph(
	ctx context.Context,
	client GraphAIClient,
	documentName string,
	entityTypes []string,
	text string,
	opts ...GenerateOption,
) (*GraphProposal, error) {
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}

	prompt := fmt.Sprintf(
		ExtractGraphPrompt,
		strings.Join(entityTypes, ", "),
		documentName,
		text,
	)

	var proposal GraphProposal
	err := client.GenerateCompletionWithFormat(
		ctx,
		"graph_proposal",
		"Entities and relationships extracted from one document",
		prompt,
		&proposal,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	return &proposal, nil
}

// Batch converts a proposal into a mergeable store batch. Relationships
// that reference an entity the model did not extract, or that loop back to
// their own source, are dropped rather than failing the whole document.
func (p *GraphProposal) Batch(documentID string) store.Batch {
	batch := store.Batch{DocumentID: documentID}

	refs := make(map[string]string, len(p.Entities))
	for _, entity := range p.Entities {
		name := strings.TrimSpace(entity.Name)
		if name == "" || strings.TrimSpace(entity.EntityType) == "" {
			continue
		}
		ref := common.NormalizeName(name)
		if _, dup := refs[ref]; dup {
			continue
		}
		refs[ref] = ref

		batch.Nodes = append(batch.Nodes, store.BatchNode{
			Ref:         ref,
			EntityType:  strings.ToUpper(strings.TrimSpace(entity.EntityType)),
			Name:        name,
			Description: entity.Description,
			Properties: common.Properties{
				Aliases:  entity.Aliases,
				Category: entity.Category,
			},
			Confidence: clampUnit(entity.Confidence),
			Snippet:    entity.EvidenceSnippet,
		})
	}

	for _, rel := range p.Relationships {
		sourceRef := common.NormalizeName(rel.Source)
		targetRef := common.NormalizeName(rel.Target)
		if sourceRef == targetRef {
			continue
		}
		if _, ok := refs[sourceRef]; !ok {
			continue
		}
		if _, ok := refs[targetRef]; !ok {
			continue
		}

		batch.Edges = append(batch.Edges, store.BatchEdge{
			SourceRef:        sourceRef,
			TargetRef:        targetRef,
			RelationshipType: strings.ToUpper(strings.TrimSpace(rel.RelationshipType)),
			Confidence:       clampUnit(rel.Confidence),
			Weight:           1,
			Snippet:          rel.EvidenceSnippet,
		})
	}

	return batch
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
