package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/perbu/kbcite/pkg/vector"
)

// DefaultOpenAIModel supports shortened output, so it can be asked for Dimension values.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the SDK-backed embedder.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	BatchTimeout time.Duration
	HTTPClient   *http.Client
}

// OpenAI uses the OpenAI API (or any compatible server) for embeddings
type OpenAI struct {
	client       *openai.Client
	model        string
	timeout      time.Duration
	batchTimeout time.Duration
}

// NewOpenAI creates an OpenAI embedder
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = cfg.HTTPClient
	if clientCfg.HTTPClient == nil {
		clientCfg.HTTPClient = &http.Client{}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		timeout:      timeout,
		batchTimeout: batchTimeout,
	}, nil
}

func (e *OpenAI) request(input []string) openai.EmbeddingRequest {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	}
	// only the v3 models accept a target dimension
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = Dimension
	}
	return req
}

// Embed generates an embedding for a single text
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, e.request([]string{text}))
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: %w: no embedding data", ErrUnrecognizedShape)
	}

	v := resp.Data[0].Embedding
	if len(v) != Dimension {
		return nil, fmt.Errorf("openai: %w: %w: got %d", ErrUnrecognizedShape, ErrWrongDimension, len(v))
	}
	vector.Normalize(v)
	return v, nil
}

// EmbedBatch embeds all texts with one API call, placing results by their index.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, e.request(texts))
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, ErrUnexpectedFormat
	}

	embeddings := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		if datum.Index < 0 || datum.Index >= len(texts) || embeddings[datum.Index] != nil {
			return nil, ErrUnexpectedFormat
		}
		if len(datum.Embedding) != Dimension {
			return nil, ErrUnexpectedFormat
		}
		vector.Normalize(datum.Embedding)
		embeddings[datum.Index] = datum.Embedding
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension
func (e *OpenAI) Dimension() int {
	return Dimension
}

// ModelInfo returns model information
func (e *OpenAI) ModelInfo() string {
	return "openai-" + e.model
}
