package embedder

import (
	"context"
	"errors"
	"strings"
	"unicode/utf16"

	"github.com/perbu/kbcite/pkg/vector"
)

// Dimension is the length of every vector used within one session.
// Remote vectors of any other length are rejected.
const Dimension = 384

var (
	// ErrMissingAPIKey is returned when a remote provider is built without credentials.
	ErrMissingAPIKey = errors.New("embedding API key is required")
	// ErrUnexpectedFormat is returned when a batch response cannot be aligned with its input.
	ErrUnexpectedFormat = errors.New("unexpected batch embeddings response format")
	// ErrUnrecognizedShape is returned when a response body carries no usable vector.
	ErrUnrecognizedShape = errors.New("unrecognized embeddings response shape")
	// ErrWrongDimension is returned alongside ErrUnrecognizedShape when a vector was found but its length is not Dimension.
	ErrWrongDimension = errors.New("embedding has wrong dimension")
)

// Embedder interface for generating embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelInfo() string
}

// Local is the dependency-free embedder of last resort.
// It hashes lower-cased whitespace tokens into Dimension buckets, weighting
// the token at position i by 1/(i+1), and L2-normalizes the result.
type Local struct{}

// NewLocal creates the hash-based embedder.
func NewLocal() *Local {
	return &Local{}
}

// Embed never fails.
func (e *Local) Embed(_ context.Context, text string) ([]float32, error) {
	return LocalEmbed(text), nil
}

// EmbedBatch embeds each text in order.
func (e *Local) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = LocalEmbed(text)
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension
func (e *Local) Dimension() int {
	return Dimension
}

// ModelInfo returns model information
func (e *Local) ModelInfo() string {
	return "local-hash-v1"
}

// LocalEmbed computes the deterministic fallback embedding for text.
// Text without tokens yields the zero vector.
func LocalEmbed(text string) []float32 {
	acc := make([]float64, Dimension)
	for i, token := range strings.Fields(strings.ToLower(text)) {
		acc[bucket(token)] += 1 / float64(i+1)
	}

	vec := make([]float32, Dimension)
	for i, v := range acc {
		vec[i] = float32(v)
	}
	vector.Normalize(vec)
	return vec
}

// bucket maps a token to its slot: a 32-bit h = h*31 + c rolling hash over
// UTF-16 code units, absolute value, modulo Dimension.
func bucket(token string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(token)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return int(abs % Dimension)
}
