package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/metrics"
)

const (
	// DefaultGradientBaseURL is the service root used when no override is configured.
	DefaultGradientBaseURL = "https://api.gradient.ai/api/v1"
	// DefaultGradientModel produces Dimension-length vectors.
	DefaultGradientModel = "bge-small"

	defaultTimeout      = 30 * time.Second
	defaultBatchTimeout = 60 * time.Second
)

// DefaultAlternates are tried after {BaseURL}/embeddings.
var DefaultAlternates = []string{
	"https://api.gradient.ai/api/v1/embeddings",
	"https://apis.gradient.network/api/v1/embeddings",
}

// GradientConfig configures the raw HTTP embedder.
type GradientConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Alternates are full endpoint URLs tried after the primary one.
	// nil means DefaultAlternates; an empty non-nil slice disables them.
	Alternates []string

	Timeout      time.Duration
	BatchTimeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Gradient talks to an embedding service over plain HTTP. It tries each
// candidate endpoint in order and understands several response layouts.
type Gradient struct {
	apiKey       string
	baseURL      string
	model        string
	endpoints    []string
	timeout      time.Duration
	batchTimeout time.Duration
	client       *http.Client
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// NewGradient creates the HTTP embedder. It fails only when no API key is set.
func NewGradient(cfg GradientConfig) (*Gradient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGradientBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGradientModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	alternates := cfg.Alternates
	if alternates == nil {
		alternates = DefaultAlternates
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gradient{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		model:        model,
		endpoints:    candidateEndpoints(baseURL, alternates),
		timeout:      timeout,
		batchTimeout: batchTimeout,
		client:       client,
		logger:       logger,
		metrics:      cfg.Metrics,
	}, nil
}

// candidateEndpoints returns the primary endpoint followed by the alternates, without duplicates.
func candidateEndpoints(baseURL string, alternates []string) []string {
	seen := make(map[string]bool, len(alternates)+1)
	endpoints := make([]string, 0, len(alternates)+1)
	for _, ep := range append([]string{baseURL + "/embeddings"}, alternates...) {
		if ep == "" || seen[ep] {
			continue
		}
		seen[ep] = true
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// Endpoints lists the URLs Embed tries, in order.
func (g *Gradient) Endpoints() []string {
	return append([]string(nil), g.endpoints...)
}

// Embed tries every candidate endpoint and returns the first recognized vector.
// The returned error joins the per-endpoint failures.
func (g *Gradient) Embed(ctx context.Context, text string) ([]float32, error) {
	var errs []error
	for _, endpoint := range g.endpoints {
		vec, err := g.embedAt(ctx, endpoint, text)
		if err == nil {
			return vec, nil
		}
		g.logger.Debug("embedding endpoint failed", zap.String("endpoint", endpoint), zap.Error(err))
		errs = append(errs, err)

		// the alternates serve the same model, so a wrong length will not change
		if ctx.Err() != nil || errors.Is(err, ErrWrongDimension) {
			break
		}
	}
	return nil, fmt.Errorf("all embedding endpoints failed: %w", errors.Join(errs...))
}

func (g *Gradient) embedAt(ctx context.Context, endpoint, text string) ([]float32, error) {
	status, body, err := g.post(ctx, endpoint, embeddingRequest{Model: g.model, Input: text}, g.timeout)
	if err != nil {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeTransport)
		return nil, err
	}
	if status < 200 || status > 299 {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeStatus)
		return nil, fmt.Errorf("%s: status %d", endpoint, status)
	}

	vec, shape, ok := parseSingle(body, Dimension)
	if !ok {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeUnrecognized)
		if shape != "" {
			return nil, fmt.Errorf("%s: %w: %q layout: %w", endpoint, ErrUnrecognizedShape, shape, ErrWrongDimension)
		}
		return nil, fmt.Errorf("%s: %w", endpoint, ErrUnrecognizedShape)
	}

	g.metrics.RemoteAttempt(endpoint, metrics.OutcomeOK)
	return vec, nil
}

// EmbedBatch sends all texts in one request to the primary endpoint.
// A response that is not aligned with texts yields ErrUnexpectedFormat.
func (g *Gradient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	endpoint := g.baseURL + "/embeddings"
	status, body, err := g.post(ctx, endpoint, embeddingRequest{Model: g.model, Input: texts}, g.batchTimeout)
	if err != nil {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeTransport)
		return nil, fmt.Errorf("batch embeddings request: %w", err)
	}
	if status < 200 || status > 299 {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeStatus)
		return nil, fmt.Errorf("batch embeddings request: status %d", status)
	}

	embeddings, ok := parseBatch(body, len(texts), Dimension)
	if !ok {
		g.metrics.RemoteAttempt(endpoint, metrics.OutcomeUnrecognized)
		return nil, ErrUnexpectedFormat
	}

	g.metrics.RemoteAttempt(endpoint, metrics.OutcomeOK)
	return embeddings, nil
}

func (g *Gradient) post(ctx context.Context, endpoint string, payload embeddingRequest, timeout time.Duration) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call embeddings API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read embeddings response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Dimension returns the embedding dimension
func (g *Gradient) Dimension() int {
	return Dimension
}

// ModelInfo returns model information
func (g *Gradient) ModelInfo() string {
	return "gradient-" + g.model
}
