package embedder

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// shapeParser extracts a flat vector from one known response layout.
// It reports false for bodies it does not recognize and never fails otherwise.
type shapeParser struct {
	name  string
	parse func(body []byte) ([]float32, bool)
}

// singleShapes are tried in order against a 2xx single-text response.
var singleShapes = []shapeParser{
	{name: "embeddings", parse: parseEmbeddingsField},
	{name: "data", parse: parseDataField},
	{name: "array", parse: parseBareArray},
}

// parseSingle runs body through singleShapes and keeps the first vector of the
// expected dimension.
func parseSingle(body []byte, dim int) ([]float32, string, bool) {
	for _, shape := range singleShapes {
		vec, ok := shape.parse(body)
		if !ok {
			continue
		}
		if len(vec) != dim {
			return nil, shape.name, false
		}
		return vec, shape.name, true
	}
	return nil, "", false
}

// parseEmbeddingsField handles {"embeddings": [[...], ...]} and {"embeddings": [...]}.
func parseEmbeddingsField(body []byte) ([]float32, bool) {
	var payload struct {
		Embeddings json.RawMessage `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Embeddings) == 0 {
		return nil, false
	}

	var nested [][]float32
	if err := json.Unmarshal(payload.Embeddings, &nested); err == nil && len(nested) > 0 {
		return nested[0], true
	}

	var flat []float32
	if err := json.Unmarshal(payload.Embeddings, &flat); err == nil && flat != nil {
		return flat, true
	}
	return nil, false
}

// parseDataField handles the OpenAI layout {"data": [{"embedding": [...]}, ...]}.
func parseDataField(body []byte) ([]float32, bool) {
	var resp openai.EmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, false
	}
	return resp.Data[0].Embedding, true
}

// parseBareArray handles a top-level [...] body.
func parseBareArray(body []byte) ([]float32, bool) {
	var flat []float32
	if err := json.Unmarshal(body, &flat); err != nil || flat == nil {
		return nil, false
	}
	return flat, true
}

// parseBatch expects {"embeddings": [[...], ...]} aligned with n inputs.
func parseBatch(body []byte, n, dim int) ([][]float32, bool) {
	var payload struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	if len(payload.Embeddings) != n {
		return nil, false
	}
	for _, vec := range payload.Embeddings {
		if len(vec) != dim {
			return nil, false
		}
	}
	return payload.Embeddings, true
}
