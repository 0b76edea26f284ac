// Package cache stores document embeddings keyed by content fingerprint.
//
// FileStore keeps the whole mapping in memory and rewrites a single JSON file
// after every insertion. Entries are never evicted: a changed document gets a
// new key and the old entry stays in the file.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/metrics"
)

// DefaultPath is relative to the working directory.
const DefaultPath = ".kb-embeddings-cache.json"

// Store is a key to vector mapping.
type Store interface {
	Get(key string) ([]float32, bool)
	Put(key string, vec []float32)
}

// MemoryStore is a Store without persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]float32)}
}

// Get returns the vector stored under key.
func (s *MemoryStore) Get(key string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.entries[key]
	return vec, ok
}

// Put stores vec under key.
func (s *MemoryStore) Put(key string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = vec
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FileStore is a Store persisted as one JSON object at path.
type FileStore struct {
	path    string
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu serializes read-modify-persist so overlapping Puts cannot lose updates.
	mu      sync.Mutex
	entries map[string][]float32
}

// NewFileStore loads path into memory. A missing or unreadable file yields an
// empty store; the problem is logged, not returned.
func NewFileStore(path string, logger *zap.Logger, m *metrics.Metrics) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &FileStore{
		path:    path,
		logger:  logger,
		metrics: m,
		entries: make(map[string][]float32),
	}
	if err := s.Load(); err != nil {
		logger.Warn("embedding cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
	}
	return s
}

// Load replaces the in-memory entries with the file contents.
// A missing file is not an error. On any error the store is left empty.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]float32)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read embedding cache: %w", err)
	}

	var entries map[string][]float32
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse embedding cache: %w", err)
	}
	if entries != nil {
		s.entries = entries
	}
	return nil
}

// Persist rewrites the whole file through a temporary file and rename.
func (s *FileStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal embedding cache: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	// Atomic rename
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace embedding cache: %w", err)
	}
	return nil
}

// Get returns the vector stored under key.
func (s *FileStore) Get(key string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vec, ok := s.entries[key]
	return vec, ok
}

// Put stores vec and persists immediately. Persist failures are logged and
// swallowed; the entry stays in memory.
func (s *FileStore) Put(key string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = vec
	err := s.persistLocked()
	s.metrics.CachePersist(err)
	if err != nil {
		s.logger.Warn("failed to save embeddings cache", zap.String("path", s.path), zap.Error(err))
	}
}

// Len returns the number of entries.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}
