// Package openai implements ai.GraphAIClient against OpenAI-compatible
// chat and embedding endpoints.
package openai

import (
	"sync"

	"github.com/latticehq/lattice/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentRequests = 4

// GraphOpenAIClient manages separate OpenAI clients for embeddings and
// chat tasks. Create it with NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string

	reqLock    *semaphore.Weighted
	timeoutMin int

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams configures a new GraphOpenAIClient.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
	RequestTimeoutMin     int
}

// NewGraphOpenAIClient creates a client configured with the provided
// parameters. Empty API keys leave the corresponding sub-client nil; calls
// against a nil sub-client fail at request time.
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentRequests
	}
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 5
	}

	return &GraphOpenAIClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  params.ExtractionModel,

		reqLock:    semaphore.NewWeighted(maxConcurrent),
		timeoutMin: timeoutMin,

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)
	return &client
}
