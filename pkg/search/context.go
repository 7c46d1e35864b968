package search

import (
	"fmt"
	"strings"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/traverse"

	"github.com/pkoukk/tiktoken-go"
)

const contextEncoding = "o200k_base"

// countTokens measures text against the answer model's tokenizer. When the
// encoding cannot be loaded it falls back to a chars/4 estimate so context
// assembly keeps working offline.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding(contextEncoding)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// buildContext renders seeds, their neighborhoods and any connecting paths
// into the grounding block handed to the answer model. Sections are
// appended in relevance order until the token budget is reached.
func buildContext(
	seeds []common.Node,
	neighborhoods map[string]*traverse.NeighborResult,
	paths []*traverse.PathResult,
	nodesByID map[string]common.Node,
	tokenBudget int,
) string {
	sections := make([]string, 0)

	var entities strings.Builder
	entities.WriteString("## Entities\n")
	for _, seed := range seeds {
		entities.WriteString(formatNode(seed))
	}
	sections = append(sections, entities.String())

	for _, path := range paths {
		if path == nil || !path.Found || len(path.Edges) == 0 {
			continue
		}
		var sb strings.Builder
		sb.WriteString("## Connection\n")
		for i, edge := range path.Edges {
			sb.WriteString(fmt.Sprintf("- %q -[%s]-> %q\n",
				path.Nodes[i].Name, edge.RelationshipType, path.Nodes[i+1].Name))
			if len(edge.EvidenceSnippets) > 0 {
				sb.WriteString(fmt.Sprintf("  evidence: %s\n", edge.EvidenceSnippets[len(edge.EvidenceSnippets)-1]))
			}
		}
		sections = append(sections, sb.String())
	}

	for _, seed := range seeds {
		result := neighborhoods[seed.ID]
		if result == nil || len(result.Neighbors) == 0 {
			continue
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Related to %q\n", seed.Name))
		for _, neighbor := range result.Neighbors {
			source, ok := nodesByID[neighbor.Edge.SourceNodeID]
			if !ok {
				continue
			}
			target, ok := nodesByID[neighbor.Edge.TargetNodeID]
			if !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("- %q -[%s]-> %q (weight %.1f)\n",
				source.Name, neighbor.Edge.RelationshipType, target.Name, neighbor.Edge.Weight))
		}
		sections = append(sections, sb.String())
	}

	var out strings.Builder
	used := 0
	for _, section := range sections {
		cost := countTokens(section)
		if used > 0 && used+cost > tokenBudget {
			break
		}
		out.WriteString(section)
		out.WriteString("\n")
		used += cost
	}
	return strings.TrimRight(out.String(), "\n")
}

func formatNode(node common.Node) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("- %q (%s)", node.Name, node.EntityType))
	if node.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(node.Description)
	}
	sb.WriteString(fmt.Sprintf(" [mentions: %d, confidence: %.2f]\n", node.MentionCount, node.Confidence))
	for _, alias := range node.Properties.Aliases {
		sb.WriteString(fmt.Sprintf("  also known as %q\n", alias))
	}
	return sb.String()
}
