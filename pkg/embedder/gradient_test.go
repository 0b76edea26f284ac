package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perbu/kbcite/pkg/metrics"
)

// testVector returns a Dimension-length vector filled with v.
func testVector(v float32) []float32 {
	vec := make([]float32, Dimension)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

func newTestGradient(t *testing.T, alternates []string, url string) *Gradient {
	t.Helper()
	g, err := NewGradient(GradientConfig{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		Alternates: alternates,
	})
	require.NoError(t, err)
	return g
}

func TestNewGradient_MissingKey(t *testing.T) {
	_, err := NewGradient(GradientConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewGradient_Defaults(t *testing.T) {
	g, err := NewGradient(GradientConfig{APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://api.gradient.ai/api/v1/embeddings",
		"https://apis.gradient.network/api/v1/embeddings",
	}, g.Endpoints())
	assert.Equal(t, "gradient-bge-small", g.ModelInfo())
	assert.Equal(t, defaultTimeout, g.timeout)
	assert.Equal(t, defaultBatchTimeout, g.batchTimeout)
}

func TestGradient_EmbedShapes(t *testing.T) {
	vec := testVector(0.5)

	tests := []struct {
		name string
		body any
	}{
		{name: "nested embeddings", body: map[string]any{"embeddings": [][]float32{vec, testVector(0.1)}}},
		{name: "flat embeddings", body: map[string]any{"embeddings": vec}},
		{name: "openai data", body: map[string]any{"data": []map[string]any{{"embedding": vec, "index": 0}}}},
		{name: "bare array", body: vec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/embeddings", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req map[string]any
				raw, _ := io.ReadAll(r.Body)
				assert.NoError(t, json.Unmarshal(raw, &req))
				assert.Equal(t, "test-model", req["model"])
				assert.Equal(t, "hello world", req["input"])

				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			g := newTestGradient(t, []string{}, srv.URL)
			got, err := g.Embed(context.Background(), "hello world")
			require.NoError(t, err)
			assert.Equal(t, vec, got)
		})
	}
}

func TestGradient_EmbedTriesAlternates(t *testing.T) {
	var primaryCalls, altCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		altCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{testVector(0.25)}})
	}))
	defer alt.Close()

	m := metrics.New(nil)
	g, err := NewGradient(GradientConfig{
		APIKey:     "k",
		BaseURL:    primary.URL,
		Alternates: []string{alt.URL + "/embeddings"},
		Metrics:    m,
	})
	require.NoError(t, err)

	got, err := g.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, testVector(0.25), got)
	assert.Equal(t, int32(1), primaryCalls.Load())
	assert.Equal(t, int32(1), altCalls.Load())
}

func TestGradient_EmbedUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown object", body: `{"vectors": [1, 2, 3]}`},
		{name: "wrong dimension", body: `{"embeddings": [[1, 2, 3]]}`},
		{name: "empty data", body: `{"data": []}`},
		{name: "not json", body: `<html>gateway</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			g := newTestGradient(t, []string{}, srv.URL)
			_, err := g.Embed(context.Background(), "text")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnrecognizedShape)
		})
	}
}

func TestGradient_EmbedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := newTestGradient(t, []string{}, url)
	_, err := g.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestGradient_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = testVector(float32(i + 1))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	g := newTestGradient(t, []string{}, srv.URL)
	got, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, testVector(1), got[0])
	assert.Equal(t, testVector(3), got[2])
}

func TestGradient_EmbedBatchMisaligned(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{testVector(1)}})
	}))
	defer srv.Close()

	g, err := NewGradient(GradientConfig{APIKey: "k", BaseURL: srv.URL, Alternates: []string{}, Metrics: m})
	require.NoError(t, err)

	_, err = g.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.True(t, errors.Is(err, ErrUnexpectedFormat))
	count, err := testutil.GatherAndCount(reg, "kbcite_embedder_remote_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGradient_EmbedBatchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := newTestGradient(t, []string{}, srv.URL)
	_, err := g.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestCandidateEndpoints(t *testing.T) {
	got := candidateEndpoints("https://api.gradient.ai/api/v1", DefaultAlternates)
	assert.Equal(t, DefaultAlternates, got)

	got = candidateEndpoints("http://local", []string{"", "http://local/embeddings", "http://b/embeddings"})
	assert.Equal(t, []string{"http://local/embeddings", "http://b/embeddings"}, got)
}

func TestGradient_EmbedWrongDimensionSkipsAlternates(t *testing.T) {
	var primaryCalls, altCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{make([]float32, 1024)}})
	}))
	defer primary.Close()
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		altCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{testVector(0.25)}})
	}))
	defer alt.Close()

	g := newTestGradient(t, []string{alt.URL + "/embeddings"}, primary.URL)
	_, err := g.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnrecognizedShape)
	assert.ErrorIs(t, err, ErrWrongDimension)
	assert.Equal(t, int32(1), primaryCalls.Load())
	assert.Zero(t, altCalls.Load())
}

func TestNewProvider_DefaultModelIsUsedRemotely(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Model string `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultGradientModel, req.Model)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{testVector(0.3)}})
	}))
	defer srv.Close()

	p, err := NewProvider(Config{APIKey: "k", BaseURL: srv.URL, Alternates: []string{"http://127.0.0.1:1/embeddings"}}, nil, nil)
	require.NoError(t, err)

	res, err := p.EmbedWithSource(context.Background(), "refund policy")
	require.NoError(t, err)
	assert.True(t, res.Remote)
	assert.Equal(t, "gradient-bge-small", res.Source)
	assert.Len(t, res.Vector, Dimension)
	assert.Equal(t, int32(1), calls.Load())
}
