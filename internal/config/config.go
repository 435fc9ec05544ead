package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted for LLM and embedding backends.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Blob storage
	BlobDir string

	// LLM provider (captions, OCR, vision, summaries)
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Embeddings
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Pipeline
	SkipExpensive      bool
	NearDupWindow      time.Duration
	NearDupMaxDistance int

	// Episode formation
	EpisodeSimilarity float64
	EpisodeMaxGap     time.Duration
	DeviceWindow      time.Duration
	SummaryMaxObs     int
	SummaryHeadObs    int
	SummaryTailObs    int

	// Rollups
	HighlightsLimit int

	// Background workers
	Workers           int
	TaskLease         time.Duration
	TaskPoll          time.Duration
	TaskMaxAttempts   int
	WeeklyInterval    time.Duration
	ReconcileInterval time.Duration
	MetricsInterval   time.Duration

	// Search
	SearchHalfLifeDays float64

	// CLI defaults
	DefaultUser string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from the environment, optionally overlaid on a
// YAML file named by OMNI_CONFIG. Environment variables win over file
// values; file keys are the lowercased variable names.
func Load() (Config, error) {
	overlay := map[string]any{}
	if path := os.Getenv("OMNI_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	get := func(key, defaultVal string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		if val, ok := overlay[strings.ToLower(key)]; ok {
			if s := fmt.Sprint(val); s != "" {
				return s
			}
		}
		return defaultVal
	}

	return Config{
		// SurrealDB
		SurrealDBURL:       get("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: get("SURREALDB_NAMESPACE", "omni"),
		SurrealDBDatabase:  get("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      get("SURREALDB_USER", "root"),
		SurrealDBPass:      get("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: get("SURREALDB_AUTH_LEVEL", "root"),

		// Blob storage
		BlobDir: get("OMNI_BLOB_DIR", "data/blobs"),

		// LLM
		LLMProvider:     get("OMNI_LLM_PROVIDER", ProviderOllama),
		LLMModel:        get("OMNI_LLM_MODEL", "llava"),
		OllamaHost:      get("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    get("OPENAI_API_KEY", ""),
		AnthropicAPIKey: get("ANTHROPIC_API_KEY", ""),

		// Embeddings
		EmbedProvider:  get("OMNI_EMBED_PROVIDER", ProviderOllama),
		EmbedModel:     get("OMNI_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: parseInt(get("OMNI_EMBED_DIMENSION", ""), 384),

		// Pipeline
		SkipExpensive:      get("OMNI_SKIP_EXPENSIVE", "false") == "true",
		NearDupWindow:      parseDuration(get("OMNI_NEARDUP_WINDOW", ""), 10*time.Minute),
		NearDupMaxDistance: parseInt(get("OMNI_NEARDUP_MAX_DISTANCE", ""), 5),

		// Episode formation
		EpisodeSimilarity: parseFloat(get("OMNI_EPISODE_SIMILARITY", ""), 0.60),
		EpisodeMaxGap:     parseDuration(get("OMNI_EPISODE_MAX_GAP", ""), 2*time.Hour),
		DeviceWindow:      parseDuration(get("OMNI_DEVICE_WINDOW", ""), time.Hour),
		SummaryMaxObs:     parseInt(get("OMNI_SUMMARY_MAX_OBS", ""), 80),
		SummaryHeadObs:    parseInt(get("OMNI_SUMMARY_HEAD_OBS", ""), 40),
		SummaryTailObs:    parseInt(get("OMNI_SUMMARY_TAIL_OBS", ""), 40),

		// Rollups
		HighlightsLimit: parseInt(get("OMNI_HIGHLIGHTS_LIMIT", ""), 6),

		// Workers
		Workers:           parseInt(get("OMNI_WORKERS", ""), 4),
		TaskLease:         parseDuration(get("OMNI_TASK_LEASE", ""), 5*time.Minute),
		TaskPoll:          parseDuration(get("OMNI_TASK_POLL", ""), time.Second),
		TaskMaxAttempts:   parseInt(get("OMNI_TASK_MAX_ATTEMPTS", ""), 3),
		WeeklyInterval:    parseDuration(get("OMNI_WEEKLY_INTERVAL", ""), 24*time.Hour),
		ReconcileInterval: parseDuration(get("OMNI_RECONCILE_INTERVAL", ""), 0),
		MetricsInterval:   parseDuration(get("OMNI_METRICS_INTERVAL", ""), 5*time.Minute),

		// Search
		SearchHalfLifeDays: parseFloat(get("OMNI_SEARCH_HALFLIFE_DAYS", ""), 30),

		// CLI
		DefaultUser: get("OMNI_USER", "default"),

		// Logging
		LogFile:  get("OMNI_LOG_FILE", "/tmp/omnimemory.log"),
		LogLevel: parseLogLevel(get("OMNI_LOG_LEVEL", "INFO")),
	}, nil
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseFloat(s string, defaultVal float64) float64 {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
