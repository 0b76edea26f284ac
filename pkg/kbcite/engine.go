package kbcite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/cache"
	"github.com/perbu/kbcite/pkg/embedder"
	"github.com/perbu/kbcite/pkg/metrics"
	"github.com/perbu/kbcite/pkg/vector"
)

const (
	// maxEmbedChars bounds what is sent to the embedding model, queries and documents alike.
	maxEmbedChars = 1000
	minSimilarity = 0.30
	maxCitations  = 5

	keywordWindow  = 100 // leading document tokens considered as keywords
	minKeywordHits = 5
	keywordScale   = 20.0
)

// EngineMode is fixed when an Engine is built.
type EngineMode string

const (
	ModeSemantic EngineMode = "semantic"
	ModeKeyword  EngineMode = "keyword"
)

// ErrNoProvider is returned by operations that need an embedding provider in keyword mode.
var ErrNoProvider = errors.New("no embedding provider configured")

// Embedder is what the engine needs from an embedding provider.
type Embedder interface {
	EmbedWithSource(ctx context.Context, text string) (embedder.Result, error)
	EmbedBatchWithSource(ctx context.Context, texts []string) ([]embedder.Result, error)
}

// scorer produces the citations for one lookup.
type scorer func(ctx context.Context, log *zap.Logger, query string, kb KBVersion) ([]Citation, error)

// Engine ranks knowledge-base documents against a query.
type Engine struct {
	provider Embedder
	store    cache.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	mode     EngineMode
	score    scorer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. A nil provider puts it in keyword mode for its
// whole lifetime; otherwise it is in semantic mode. A nil store means an
// in-memory cache.
func NewEngine(provider Embedder, store cache.Store, opts ...Option) *Engine {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	e := &Engine{
		provider: provider,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if provider == nil {
		e.mode, e.score = ModeKeyword, e.keywordCitations
	} else {
		e.mode, e.score = ModeSemantic, e.semanticCitations
	}
	return e
}

// Mode reports whether the engine ranks by embeddings or by keyword overlap.
func (e *Engine) Mode() EngineMode {
	return e.mode
}

// FindCitations returns the documents of kb that support query, highest score first.
// Remote failures only lower the quality of the result; the returned error is
// reserved for a dimension mismatch between cached and fresh vectors.
func (e *Engine) FindCitations(ctx context.Context, query string, kb KBVersion) ([]Citation, error) {
	log := e.logger.With(
		zap.String("lookup_id", uuid.NewString()),
		zap.String("mode", string(e.mode)),
		zap.String("kb", kb.Fingerprint),
	)
	log.Debug("finding citations", zap.Int("docs", len(kb.Docs)), zap.Int("query_len", len(query)))

	citations, err := e.score(ctx, log, query, kb)
	if err != nil {
		log.Error("citation lookup failed", zap.Error(err))
		return nil, err
	}

	e.metrics.CitationsReturned(string(e.mode), len(citations))
	log.Debug("citations found", zap.Int("count", len(citations)))
	return citations, nil
}

type scoredDoc struct {
	doc    Document
	score  float64
	anchor string
}

func (e *Engine) semanticCitations(ctx context.Context, log *zap.Logger, query string, kb KBVersion) ([]Citation, error) {
	queryVec := e.embed(ctx, log, truncate(query, maxEmbedChars)).Vector

	var kept []scoredDoc
	for _, doc := range kb.Docs {
		docVec := e.docEmbedding(ctx, log, doc)

		sim, err := vector.CosineSimilarity(queryVec, docVec)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", doc.Filename, err)
		}
		log.Debug("document similarity", zap.String("doc", doc.Filename), zap.Float64("similarity", sim))
		if sim <= minSimilarity {
			continue
		}

		anchor, err := bestHeadingBySimilarity(queryVec, doc.Headings)
		if err != nil {
			return nil, fmt.Errorf("score headings of %s: %w", doc.Filename, err)
		}
		kept = append(kept, scoredDoc{doc: doc, score: sim, anchor: anchor})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})
	if len(kept) > maxCitations {
		kept = kept[:maxCitations]
	}

	citations := make([]Citation, 0, len(kept))
	for _, s := range kept {
		citations = append(citations, Citation{
			Doc:    s.doc.Filename,
			Anchor: s.anchor,
			Score:  math.Round(s.score*100) / 100,
		})
	}
	return citations, nil
}

// embed asks the provider for a vector and falls back to the local embedding
// when the provider chain is exhausted.
func (e *Engine) embed(ctx context.Context, log *zap.Logger, text string) embedder.Result {
	res, err := e.provider.EmbedWithSource(ctx, text)
	if err != nil {
		log.Warn("failed to generate embedding, using fallback", zap.Error(err))
		return embedder.Result{Vector: embedder.LocalEmbed(text), Source: "local"}
	}
	return res
}

// docEmbedding serves doc from the cache, or embeds its leading text and
// caches the vector when a remote strategy produced it. Local fallback
// vectors are never written, not even when embed itself fell back, so the
// next lookup asks the remote again.
func (e *Engine) docEmbedding(ctx context.Context, log *zap.Logger, doc Document) []float32 {
	key := CacheKey(doc)
	if vec, ok := e.store.Get(key); ok {
		e.metrics.CacheLookup(true)
		return vec
	}
	e.metrics.CacheLookup(false)

	res := e.embed(ctx, log, truncate(doc.Content, maxEmbedChars))
	if res.Remote {
		e.store.Put(key, res.Vector)
	}
	return res.Vector
}

// bestHeadingBySimilarity compares each heading's local embedding with queryVec and
// returns the anchor of the first best match with a positive score.
func bestHeadingBySimilarity(queryVec []float32, headings []Heading) (string, error) {
	var anchor string
	var best float64
	for _, h := range headings {
		sim, err := vector.CosineSimilarity(queryVec, embedder.LocalEmbed(h.Text))
		if err != nil {
			return "", err
		}
		if sim > best {
			best, anchor = sim, h.Anchor
		}
	}
	return anchor, nil
}

func (e *Engine) keywordCitations(_ context.Context, log *zap.Logger, query string, kb KBVersion) ([]Citation, error) {
	queryLower := strings.ToLower(query)

	var citations []Citation
	for _, doc := range kb.Docs {
		keywords := splitKeywords(strings.ToLower(doc.Content))
		if len(keywords) > keywordWindow {
			keywords = keywords[:keywordWindow]
		}

		hits := 0
		for _, kw := range keywords {
			if strings.Contains(queryLower, kw) {
				hits++
			}
		}
		log.Debug("keyword relevance", zap.String("doc", doc.Filename), zap.Int("hits", hits))
		if hits <= minKeywordHits {
			continue
		}

		citations = append(citations, Citation{
			Doc:    doc.Filename,
			Anchor: bestHeadingByWords(queryLower, doc.Headings),
			Score:  math.Min(float64(hits)/keywordScale, 1),
		})
	}

	// no cap in this mode
	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].Score > citations[j].Score
	})
	return citations, nil
}

// splitKeywords splits s on whitespace runs like strings.Fields, but leading
// and trailing whitespace each yield an empty token. An empty token is
// contained in every query, so it counts as a hit.
func splitKeywords(s string) []string {
	if s == "" {
		return []string{""}
	}
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields)+2)

	first, _ := utf8.DecodeRuneInString(s)
	if unicode.IsSpace(first) {
		tokens = append(tokens, "")
	}
	tokens = append(tokens, fields...)
	last, _ := utf8.DecodeLastRuneInString(s)
	if unicode.IsSpace(last) {
		tokens = append(tokens, "")
	}
	return tokens
}

// bestHeadingByWords counts the heading words contained in queryLower and
// returns the anchor of the first heading with the highest positive count.
func bestHeadingByWords(queryLower string, headings []Heading) string {
	var anchor string
	best := 0
	for _, h := range headings {
		n := 0
		for _, w := range strings.Fields(strings.ToLower(h.Text)) {
			if strings.Contains(queryLower, w) {
				n++
			}
		}
		if n > best {
			best, anchor = n, h.Anchor
		}
	}
	return anchor
}

// Warm embeds every uncached document of kb with one batch request and caches
// the remote vectors. It returns how many entries were added.
func (e *Engine) Warm(ctx context.Context, kb KBVersion) (int, error) {
	if e.provider == nil {
		return 0, ErrNoProvider
	}

	var pending []Document
	var texts []string
	for _, doc := range kb.Docs {
		if _, ok := e.store.Get(CacheKey(doc)); ok {
			continue
		}
		pending = append(pending, doc)
		texts = append(texts, truncate(doc.Content, maxEmbedChars))
	}
	if len(pending) == 0 {
		return 0, nil
	}

	results, err := e.provider.EmbedBatchWithSource(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("warm embeddings: %w", err)
	}

	added := 0
	for i, res := range results {
		if !res.Remote {
			e.logger.Warn("not caching fallback embedding", zap.String("doc", pending[i].Filename))
			continue
		}
		e.store.Put(CacheKey(pending[i]), res.Vector)
		added++
	}
	return added, nil
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
