package ai

import (
	"context"
	"fmt"
	"strings"
)

type insightWording struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DescribeInsight asks the model for a title and description of a
// structural finding. The facts are ground truth computed from the graph;
// the model only words them.
func DescribeInsight(
	ctx context.Context,
	client GraphAIClient,
	insightType string,
	facts []string,
	opts ...GenerateOption,
) (title, description string, err error) {
	lines := make([]string, 0, len(facts))
	for _, fact := range facts {
		lines = append(lines, "- "+fact)
	}
	prompt := fmt.Sprintf(DescribeInsightPrompt, insightType, strings.Join(lines, "\n"))

	var wording insightWording
	err = client.GenerateCompletionWithFormat(
		ctx,
		"insight_wording",
		"Title and description for a structural graph finding",
		prompt,
		&wording,
		opts...,
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	return wording.Title, wording.Description, nil
}

// GenerateAnswer produces a grounded natural-language answer from assembled
// graph context.
func GenerateAnswer(
	ctx context.Context,
	client GraphAIClient,
	graphContext string,
	question string,
	opts ...GenerateOption,
) (string, error) {
	prompt := fmt.Sprintf(AnswerPrompt, graphContext, question)
	answer, err := client.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	return strings.TrimSpace(answer), nil
}

// GenerateDirectAnswer answers a question without graph grounding, used
// when a search disables graph context.
func GenerateDirectAnswer(
	ctx context.Context,
	client GraphAIClient,
	question string,
	opts ...GenerateOption,
) (string, error) {
	prompt := fmt.Sprintf(DirectAnswerPrompt, question)
	answer, err := client.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCollaborator, err)
	}
	return strings.TrimSpace(answer), nil
}
