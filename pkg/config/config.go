// Package config resolves kbcite settings from the environment and an
// optional config file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/perbu/kbcite/pkg/cache"
	"github.com/perbu/kbcite/pkg/embedder"
)

// Keys, also the environment variable names once upper-cased.
const (
	KeyProvider        = "embeddings_provider"
	KeyGradientAPIKey  = "gradient_api_key"
	KeyGradientBaseURL = "gradient_embeddings_base_url"
	KeyGradientModel   = "gradient_embeddings_model"
	KeyOpenAIAPIKey    = "openai_api_key"
	KeyOpenAIBaseURL   = "openai_base_url"
	KeyOpenAIModel     = "openai_embeddings_model"
	KeyKBRoot          = "kb_root"
	KeyCachePath       = "kb_cache_path"
	KeyTimeout         = "embeddings_timeout"
	KeyBatchTimeout    = "embeddings_batch_timeout"
	KeyLogLevel        = "log_level"
)

const (
	defaultKBRoot       = "kb"
	defaultTimeout      = 30 * time.Second
	defaultBatchTimeout = 60 * time.Second
	defaultLogLevel     = "info"
)

// Config is the resolved process configuration.
type Config struct {
	Embeddings embedder.Config
	KBRoot     string
	CachePath  string
	LogLevel   zapcore.Level
	// File is the config file that was read, empty when none was.
	File string
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyProvider, embedder.KindGradient)
	v.SetDefault(KeyGradientBaseURL, embedder.DefaultGradientBaseURL)
	v.SetDefault(KeyGradientModel, embedder.DefaultGradientModel)
	v.SetDefault(KeyOpenAIModel, embedder.DefaultOpenAIModel)
	v.SetDefault(KeyKBRoot, defaultKBRoot)
	v.SetDefault(KeyCachePath, cache.DefaultPath)
	v.SetDefault(KeyTimeout, defaultTimeout)
	v.SetDefault(KeyBatchTimeout, defaultBatchTimeout)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.AutomaticEnv()
	return v
}

// Load reads path, if given, into v and resolves the configuration. A missing
// API key is not an error here; building the provider reports it.
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.File = v.ConfigFileUsed()
	}

	level, err := zapcore.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return cfg, fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	cfg.LogLevel = level

	timeout, batchTimeout := v.GetDuration(KeyTimeout), v.GetDuration(KeyBatchTimeout)
	if timeout <= 0 || batchTimeout <= 0 {
		return cfg, fmt.Errorf("embedding timeouts must be positive, got %s and %s", timeout, batchTimeout)
	}

	kind := v.GetString(KeyProvider)
	emb := embedder.Config{
		Kind:         kind,
		Timeout:      timeout,
		BatchTimeout: batchTimeout,
	}
	switch kind {
	case embedder.KindGradient:
		emb.APIKey = v.GetString(KeyGradientAPIKey)
		emb.BaseURL = v.GetString(KeyGradientBaseURL)
		emb.Model = v.GetString(KeyGradientModel)
	case embedder.KindOpenAI:
		emb.APIKey = v.GetString(KeyOpenAIAPIKey)
		emb.BaseURL = v.GetString(KeyOpenAIBaseURL)
		emb.Model = v.GetString(KeyOpenAIModel)
	default:
		return cfg, fmt.Errorf("unknown %s %q", KeyProvider, kind)
	}
	cfg.Embeddings = emb

	cfg.KBRoot = v.GetString(KeyKBRoot)
	cfg.CachePath = v.GetString(KeyCachePath)
	return cfg, nil
}
