// Package ollama implements ai.GraphAIClient against a locally or remotely
// hosted Ollama server.
package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/latticehq/lattice/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentRequests = 2

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama
// as the backend.
type GraphOllamaClient struct {
	embeddingModel   string
	descriptionModel string
	extractionModel  string

	reqLock    *semaphore.Weighted
	timeoutMin int

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewGraphOllamaClientParams configures a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel   string
	DescriptionModel string
	ExtractionModel  string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	RequestTimeoutMin     int
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based client. It connects to
// the server at BaseURL (or the Ollama default if empty).
func NewGraphOllamaClient(params NewGraphOllamaClientParams) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentRequests
	}
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 10
	}

	return &GraphOllamaClient{
		embeddingModel:   params.EmbeddingModel,
		descriptionModel: params.DescriptionModel,
		extractionModel:  params.ExtractionModel,

		reqLock:    semaphore.NewWeighted(maxConcurrent),
		timeoutMin: timeoutMin,

		Client: api.NewClient(u, httpClient),
	}, nil
}
