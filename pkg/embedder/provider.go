package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/metrics"
)

// Provider kinds.
const (
	KindGradient = "gradient"
	KindOpenAI   = "openai"
)

// ErrNoStrategy is returned when every strategy in a chain failed.
var ErrNoStrategy = errors.New("no embedding strategy produced a vector")

// Result is a vector together with the strategy that produced it.
type Result struct {
	Vector []float32
	Source string
	// Remote is false when the vector came from the local fallback.
	Remote bool
}

// Config selects and configures the remote side of a Provider.
type Config struct {
	Kind       string
	APIKey     string
	BaseURL    string
	Model      string
	Alternates []string

	Timeout      time.Duration
	BatchTimeout time.Duration
	HTTPClient   *http.Client
}

// Provider is an ordered chain of embedders. Each call walks the chain until
// one strategy returns a vector of Dimension length. Built by NewProvider the
// chain always ends with Local, so Embed does not fail.
type Provider struct {
	strategies []Embedder
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewProvider builds the remote embedder named by cfg.Kind followed by the
// local fallback. A missing API key yields ErrMissingAPIKey.
func NewProvider(cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var remote Embedder
	switch cfg.Kind {
	case "", KindGradient:
		g, err := NewGradient(GradientConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Alternates:   cfg.Alternates,
			Timeout:      cfg.Timeout,
			BatchTimeout: cfg.BatchTimeout,
			HTTPClient:   cfg.HTTPClient,
			Logger:       logger,
			Metrics:      m,
		})
		if err != nil {
			return nil, err
		}
		remote = g
	case KindOpenAI:
		o, err := NewOpenAI(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			BatchTimeout: cfg.BatchTimeout,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		remote = o
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Kind)
	}

	return NewChain(logger, m, remote, NewLocal()), nil
}

// NewChain creates a Provider over the given strategies, tried in order.
func NewChain(logger *zap.Logger, m *metrics.Metrics, strategies ...Embedder) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		strategies: strategies,
		logger:     logger,
		metrics:    m,
	}
}

// EmbedWithSource returns the first usable vector and which strategy produced it.
func (p *Provider) EmbedWithSource(ctx context.Context, text string) (Result, error) {
	var errs []error
	for i, s := range p.strategies {
		vec, err := s.Embed(ctx, text)
		if err == nil && len(vec) != Dimension {
			err = fmt.Errorf("%s: %w: %w: got %d", s.ModelInfo(), ErrUnrecognizedShape, ErrWrongDimension, len(vec))
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, local := s.(*Local)
		if i > 0 {
			p.metrics.Fallback(s.ModelInfo())
			p.logger.Warn("embeddings API not available, using fallback",
				zap.String("strategy", s.ModelInfo()),
				zap.Error(errors.Join(errs...)))
		}
		return Result{Vector: vec, Source: s.ModelInfo(), Remote: !local}, nil
	}
	return Result{}, fmt.Errorf("%w: %w", ErrNoStrategy, errors.Join(errs...))
}

// Embed implements Embedder.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.EmbedWithSource(ctx, text)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// EmbedBatch implements Embedder.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results, err := p.EmbedBatchWithSource(ctx, texts)
	if err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(results))
	for i, res := range results {
		embeddings[i] = res.Vector
	}
	return embeddings, nil
}

// EmbedBatchWithSource asks the first strategy for one batched call. If that
// fails or is misaligned, each text goes through EmbedWithSource sequentially;
// results keep input order either way.
func (p *Provider) EmbedBatchWithSource(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return []Result{}, nil
	}

	if len(p.strategies) > 0 {
		first := p.strategies[0]
		embeddings, err := first.EmbedBatch(ctx, texts)
		if err == nil && !aligned(embeddings, len(texts)) {
			err = ErrUnexpectedFormat
		}
		if err == nil {
			_, local := first.(*Local)
			results := make([]Result, len(embeddings))
			for i, vec := range embeddings {
				results[i] = Result{Vector: vec, Source: first.ModelInfo(), Remote: !local}
			}
			return results, nil
		}
		p.logger.Warn("batch embeddings failed, falling back to individual calls",
			zap.String("strategy", first.ModelInfo()),
			zap.Int("texts", len(texts)),
			zap.Error(err))
	}

	results := make([]Result, len(texts))
	for i, text := range texts {
		res, err := p.EmbedWithSource(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		results[i] = res
	}
	return results, nil
}

func aligned(embeddings [][]float32, n int) bool {
	if len(embeddings) != n {
		return false
	}
	for _, vec := range embeddings {
		if len(vec) != Dimension {
			return false
		}
	}
	return true
}

// Dimension returns the embedding dimension
func (p *Provider) Dimension() int {
	return Dimension
}

// ModelInfo names the primary strategy.
func (p *Provider) ModelInfo() string {
	if len(p.strategies) == 0 {
		return "empty-chain"
	}
	return p.strategies[0].ModelInfo()
}
