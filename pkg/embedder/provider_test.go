package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// failing is a strategy that never produces a vector.
type failing struct {
	calls      atomic.Int32
	batchCalls atomic.Int32
}

func (f *failing) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("service down")
}

func (f *failing) EmbedBatch(context.Context, []string) ([][]float32, error) {
	f.batchCalls.Add(1)
	return nil, ErrUnexpectedFormat
}

func (f *failing) Dimension() int    { return Dimension }
func (f *failing) ModelInfo() string { return "failing" }

// fixed returns the same vector for every text.
type fixed struct {
	vec []float32
}

func (f fixed) Embed(context.Context, string) ([]float32, error) { return f.vec, nil }

func (f fixed) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f fixed) Dimension() int    { return len(f.vec) }
func (f fixed) ModelInfo() string { return "fixed" }

func TestProvider_FallsBackToLocal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	remote := &failing{}
	p := NewChain(zap.New(core), nil, remote, NewLocal())

	res, err := p.EmbedWithSource(context.Background(), "refund policy")
	require.NoError(t, err)

	assert.Equal(t, LocalEmbed("refund policy"), res.Vector)
	assert.Equal(t, "local-hash-v1", res.Source)
	assert.False(t, res.Remote)
	assert.Equal(t, int32(1), remote.calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("embeddings API not available, using fallback").Len())
}

func TestProvider_PrefersRemote(t *testing.T) {
	vec := testVector(0.1)
	p := NewChain(nil, nil, fixed{vec: vec}, NewLocal())

	res, err := p.EmbedWithSource(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, vec, res.Vector)
	assert.True(t, res.Remote)
	assert.Equal(t, "fixed", p.ModelInfo())
}

func TestProvider_RejectsWrongDimension(t *testing.T) {
	p := NewChain(nil, nil, fixed{vec: []float32{1, 2, 3}}, NewLocal())

	res, err := p.EmbedWithSource(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, res.Remote)
	assert.Len(t, res.Vector, Dimension)
}

func TestProvider_AllStrategiesFail(t *testing.T) {
	p := NewChain(nil, nil, &failing{})

	_, err := p.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoStrategy)
}

func TestProvider_EmbedBatchFallsBackSequentially(t *testing.T) {
	remote := &failing{}
	p := NewChain(nil, nil, remote, NewLocal())
	texts := []string{"first text", "second text", "third"}

	got, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))
	for i, text := range texts {
		assert.Equal(t, LocalEmbed(text), got[i])
	}
	assert.Equal(t, int32(1), remote.batchCalls.Load())
	assert.Equal(t, int32(len(texts)), remote.calls.Load())
}

func TestProvider_EmbedBatchEmpty(t *testing.T) {
	p := NewChain(nil, nil, &failing{}, NewLocal())

	got, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(Config{Kind: KindGradient}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewProvider(Config{Kind: KindOpenAI}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewProvider(Config{Kind: "cohere", APIKey: "k"}, nil, nil)
	assert.Error(t, err)

	p, err := NewProvider(Config{APIKey: "k"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "gradient-bge-small", p.ModelInfo())
}

func TestNewProvider_GradientEndToEnd(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": testVector(0.2)}}})
	}))
	defer srv.Close()

	p, err := NewProvider(Config{APIKey: "k", BaseURL: srv.URL, Alternates: []string{}}, nil, nil)
	require.NoError(t, err)

	res, err := p.EmbedWithSource(context.Background(), "query")
	require.NoError(t, err)
	assert.True(t, res.Remote)
	assert.Equal(t, testVector(0.2), res.Vector)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvider_EmbedBatchWithSource(t *testing.T) {
	vec := testVector(0.3)
	p := NewChain(nil, nil, fixed{vec: vec}, NewLocal())

	got, err := p.EmbedBatchWithSource(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, res := range got {
		assert.True(t, res.Remote)
		assert.Equal(t, vec, res.Vector)
	}

	p = NewChain(nil, nil, &failing{}, NewLocal())
	got, err = p.EmbedBatchWithSource(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	for _, res := range got {
		assert.False(t, res.Remote)
	}
}
