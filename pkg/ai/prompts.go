package ai

// ExtractGraphPrompt asks the extraction model for candidate entities and
// relationships in the batch shape the graph store merges. Placeholders:
// entity types, document name, document text.
const ExtractGraphPrompt = `
# Task Context
You are an assistant that extracts structured entity and relationship information from document text for a knowledge graph.

# Background Data
- Entity_types: [%s]
- Document_name: "%s"

# Detailed Task Description & Rules
- Identify every entity of the given types that the text explicitly mentions.
- For each entity provide:
  * "name": the entity name as used in the text
  * "entity_type": one of the given types
  * "description": a short factual description built only from the text
  * "confidence": 0.0-1.0, how clearly the text supports this entity
  * "evidence_snippet": the exact text fragment that mentions the entity
  * optional "aliases": alternative names used in the text
  * optional "category": a finer-grained category within the type
- For each relationship between two extracted entities provide:
  * "source": the name of the source entity (must match an extracted entity)
  * "target": the name of the target entity (must match an extracted entity)
  * "relationship_type": a SHORT_UPPER_SNAKE_CASE label (e.g. WORKS_FOR, LOCATED_IN, SUPPLIES)
  * "confidence": 0.0-1.0
  * "evidence_snippet": the exact text fragment supporting the relationship
- Never invent entities or relationships the text does not state.
- Never create a relationship from an entity to itself.

# Document Text
%s

# Output Formatting
Return valid JSON only, matching the requested schema. No commentary.
`

// DescribeInsightPrompt turns a structural finding into a short title and
// description. Placeholders: insight type, structural facts.
const DescribeInsightPrompt = `
# Task Context
You are an assistant that writes concise titles and descriptions for structural findings in a knowledge graph.

# Background Data
- Finding type: %s
- Structural facts:
%s

# Detailed Task Description & Rules
- The structural facts are ground truth; do not contradict, extend, or speculate beyond them.
- "title" is one short sentence naming the finding.
- "description" is 1-3 sentences explaining what the finding connects and why it may matter.
- Use the entity names exactly as given.

# Output Formatting
Return valid JSON only, matching the requested schema. No commentary.
`

// DirectAnswerPrompt answers a question without graph grounding, for
// searches that disable graph context. Placeholder: user question.
const DirectAnswerPrompt = `
# Task Context
You are an assistant that answers questions about documents in a project.

# Detailed Task Description & Rules
- Answer from general knowledge of the question's subject.
- If you cannot answer reliably, say so plainly instead of guessing.
- Keep the answer focused.

# Immediate Task Description or Request
Question: %s
`

// AnswerPrompt grounds answer generation in assembled graph context.
// Placeholders: graph context block, user question.
const AnswerPrompt = `
# Task Context
You are an assistant that answers questions using ONLY the provided knowledge graph context.

# Background Data
## Graph Context
%s

# Detailed Task Description & Rules
- Answer the question using only facts present in the graph context.
- When the context contains a relationship path, explain the connection along the path.
- If the context does not contain enough information, say so plainly instead of guessing.
- Keep the answer focused; do not enumerate the raw context back to the user.

# Immediate Task Description or Request
Question: %s
`
