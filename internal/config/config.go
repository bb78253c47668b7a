package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultServerPort            = 8000
	DefaultL1TTLSeconds          = 3600
	DefaultL1MaxEntries          = 10000
	DefaultDocSetVersion         = "v1"
	DefaultQualityThreshold      = 0.7
	DefaultMinQualityScore       = 0.75
	DefaultTopK                  = 2
	DefaultShortTermMaxMessages  = 20
	DefaultRetrievalTimeoutSecs  = 10
	DefaultGenerationTimeoutSecs = 60
	DefaultJudgeTimeoutSecs      = 30
)

// JudgeFailureMode controls what happens when the judge itself is unavailable.
type JudgeFailureMode string

const (
	// JudgeFailureLenient treats a judge outage as a mid-score pass and keeps
	// the generated answer, prioritizing availability over strict gating.
	JudgeFailureLenient JudgeFailureMode = "lenient"
	// JudgeFailureStrict fails the quality gate when the judge cannot run.
	JudgeFailureStrict JudgeFailureMode = "strict"
)

// ModelDescriptor describes one configured generation backend. Loaded once at
// startup and read-only thereafter.
type ModelDescriptor struct {
	Provider        string  `toml:"provider"`
	ModelID         string  `toml:"model_id"`
	Endpoint        string  `toml:"endpoint"`
	APIKey          string  `toml:"api_key"`
	CostPer1KTokens float64 `toml:"cost_per_1k_tokens"`
	LatencyEstimate int     `toml:"latency_ms_estimate"`
	ContextWindow   int     `toml:"context_window"`
	QualityTier     string  `toml:"quality_tier"`
	MaxComplexity   float64 `toml:"max_complexity"`
}

// Config holds the full application configuration.
type Config struct {
	ServerPort int

	LogLevel string
	LogFile  string

	DBPath string

	CacheL1TTL        time.Duration
	CacheL1MaxEntries int64
	DocSetVersion     string

	JudgeModel       string
	QualityThreshold float64
	EnableFallback   bool
	JudgeFailure     JudgeFailureMode

	MinQualityScore      float64
	FallbackChain        []string
	SimpleThreshold      float64
	MediumThreshold      float64
	TierModels           map[string]string // difficulty tier -> model name
	Models               map[string]ModelDescriptor
	GenerationModel      string // model used by the pipeline's generation stage
	GenerationMaxTokens  int
	GenerationTimeout    time.Duration
	JudgeTimeout         time.Duration
	RetrievalBaseURL     string
	RetrievalTopK        int
	RetrievalTimeout     time.Duration
	ShortTermMaxMessages int
}

type fileConfig struct {
	Server struct {
		Port int `toml:"port"`
	} `toml:"server"`
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	Storage struct {
		DBPath string `toml:"db_path"`
	} `toml:"storage"`
	Cache struct {
		L1TTLSeconds  int    `toml:"l1_ttl_seconds"`
		L1MaxEntries  int64  `toml:"l1_max_entries"`
		DocSetVersion string `toml:"doc_set_version"`
	} `toml:"cache"`
	Judge struct {
		Model            string  `toml:"model"`
		QualityThreshold float64 `toml:"quality_threshold"`
		EnableFallback   *bool   `toml:"enable_fallback"`
		FailureMode      string  `toml:"failure_mode"`
		TimeoutSeconds   int     `toml:"timeout_seconds"`
	} `toml:"judge"`
	Routing struct {
		MinQualityScore float64           `toml:"min_quality_score"`
		FallbackChain   []string          `toml:"fallback_chain"`
		SimpleThreshold float64           `toml:"simple_threshold"`
		MediumThreshold float64           `toml:"medium_threshold"`
		TierModels      map[string]string `toml:"tier_models"`
	} `toml:"routing"`
	Generation struct {
		Model          string `toml:"model"`
		MaxTokens      int    `toml:"max_tokens"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"generation"`
	Retrieval struct {
		BaseURL        string `toml:"base_url"`
		TopK           int    `toml:"top_k"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"retrieval"`
	Memory struct {
		ShortTermMaxMessages int `toml:"short_term_max_messages"`
	} `toml:"memory"`
	Models map[string]ModelDescriptor `toml:"models"`
}

// Load reads configuration from the given TOML file (optional), applies
// RAGPIPE_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			var parsed fileConfig
			if err := toml.Unmarshal(data, &parsed); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			applyFile(cfg, &parsed)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:           DefaultServerPort,
		LogLevel:             "info",
		DBPath:               "data/ragpipe.sqlite3",
		CacheL1TTL:           DefaultL1TTLSeconds * time.Second,
		CacheL1MaxEntries:    DefaultL1MaxEntries,
		DocSetVersion:        DefaultDocSetVersion,
		QualityThreshold:     DefaultQualityThreshold,
		EnableFallback:       true,
		JudgeFailure:         JudgeFailureLenient,
		MinQualityScore:      DefaultMinQualityScore,
		SimpleThreshold:      0.3,
		MediumThreshold:      0.6,
		TierModels:           map[string]string{},
		Models:               map[string]ModelDescriptor{},
		GenerationMaxTokens:  1024,
		GenerationTimeout:    DefaultGenerationTimeoutSecs * time.Second,
		JudgeTimeout:         DefaultJudgeTimeoutSecs * time.Second,
		RetrievalTopK:        DefaultTopK,
		RetrievalTimeout:     DefaultRetrievalTimeoutSecs * time.Second,
		ShortTermMaxMessages: DefaultShortTermMaxMessages,
	}
}

func applyFile(cfg *Config, parsed *fileConfig) {
	if parsed.Server.Port != 0 {
		cfg.ServerPort = parsed.Server.Port
	}
	if parsed.Logging.Level != "" {
		cfg.LogLevel = parsed.Logging.Level
	}
	if parsed.Logging.File != "" {
		cfg.LogFile = parsed.Logging.File
	}
	if parsed.Storage.DBPath != "" {
		cfg.DBPath = parsed.Storage.DBPath
	}
	if parsed.Cache.L1TTLSeconds > 0 {
		cfg.CacheL1TTL = time.Duration(parsed.Cache.L1TTLSeconds) * time.Second
	}
	if parsed.Cache.L1MaxEntries > 0 {
		cfg.CacheL1MaxEntries = parsed.Cache.L1MaxEntries
	}
	if parsed.Cache.DocSetVersion != "" {
		cfg.DocSetVersion = parsed.Cache.DocSetVersion
	}
	if parsed.Judge.Model != "" {
		cfg.JudgeModel = parsed.Judge.Model
	}
	if parsed.Judge.QualityThreshold > 0 {
		cfg.QualityThreshold = parsed.Judge.QualityThreshold
	}
	if parsed.Judge.EnableFallback != nil {
		cfg.EnableFallback = *parsed.Judge.EnableFallback
	}
	if parsed.Judge.FailureMode != "" {
		cfg.JudgeFailure = JudgeFailureMode(parsed.Judge.FailureMode)
	}
	if parsed.Judge.TimeoutSeconds > 0 {
		cfg.JudgeTimeout = time.Duration(parsed.Judge.TimeoutSeconds) * time.Second
	}
	if parsed.Routing.MinQualityScore > 0 {
		cfg.MinQualityScore = parsed.Routing.MinQualityScore
	}
	if len(parsed.Routing.FallbackChain) > 0 {
		cfg.FallbackChain = parsed.Routing.FallbackChain
	}
	if parsed.Routing.SimpleThreshold > 0 {
		cfg.SimpleThreshold = parsed.Routing.SimpleThreshold
	}
	if parsed.Routing.MediumThreshold > 0 {
		cfg.MediumThreshold = parsed.Routing.MediumThreshold
	}
	for tier, model := range parsed.Routing.TierModels {
		cfg.TierModels[tier] = model
	}
	if parsed.Generation.Model != "" {
		cfg.GenerationModel = parsed.Generation.Model
	}
	if parsed.Generation.MaxTokens > 0 {
		cfg.GenerationMaxTokens = parsed.Generation.MaxTokens
	}
	if parsed.Generation.TimeoutSeconds > 0 {
		cfg.GenerationTimeout = time.Duration(parsed.Generation.TimeoutSeconds) * time.Second
	}
	if parsed.Retrieval.BaseURL != "" {
		cfg.RetrievalBaseURL = normalizeBaseURL(parsed.Retrieval.BaseURL)
	}
	if parsed.Retrieval.TopK > 0 {
		cfg.RetrievalTopK = parsed.Retrieval.TopK
	}
	if parsed.Retrieval.TimeoutSeconds > 0 {
		cfg.RetrievalTimeout = time.Duration(parsed.Retrieval.TimeoutSeconds) * time.Second
	}
	if parsed.Memory.ShortTermMaxMessages > 0 {
		cfg.ShortTermMaxMessages = parsed.Memory.ShortTermMaxMessages
	}
	for name, desc := range parsed.Models {
		cfg.Models[name] = desc
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RAGPIPE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ServerPort = port
		}
	}
	if v := os.Getenv("RAGPIPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RAGPIPE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("RAGPIPE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RAGPIPE_CACHE_L1_TTL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CacheL1TTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("RAGPIPE_DOC_SET_VERSION"); v != "" {
		cfg.DocSetVersion = v
	}
	if v := os.Getenv("RAGPIPE_JUDGE_MODEL"); v != "" {
		cfg.JudgeModel = v
	}
	if v := os.Getenv("RAGPIPE_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.QualityThreshold = f
		}
	}
	if v := os.Getenv("RAGPIPE_ENABLE_FALLBACK"); v != "" {
		cfg.EnableFallback = v == "true" || v == "1"
	}
	if v := os.Getenv("RAGPIPE_JUDGE_FAILURE_MODE"); v != "" {
		cfg.JudgeFailure = JudgeFailureMode(v)
	}
	if v := os.Getenv("RAGPIPE_MIN_QUALITY_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinQualityScore = f
		}
	}
	if v := os.Getenv("RAGPIPE_FALLBACK_CHAIN"); v != "" {
		var chain []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				chain = append(chain, part)
			}
		}
		if len(chain) > 0 {
			cfg.FallbackChain = chain
		}
	}
	if v := os.Getenv("RAGPIPE_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("RAGPIPE_RETRIEVAL_BASE_URL"); v != "" {
		cfg.RetrievalBaseURL = normalizeBaseURL(v)
	}
	if v := os.Getenv("RAGPIPE_RETRIEVAL_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.RetrievalTopK = k
		}
	}
	if v := os.Getenv("RAGPIPE_SHORT_TERM_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ShortTermMaxMessages = n
		}
	}
}

func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// Validate verifies the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server port out of range: %d", c.ServerPort)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold must be between 0 and 1")
	}
	if c.MinQualityScore < 0 || c.MinQualityScore > 1 {
		return fmt.Errorf("min quality score must be between 0 and 1")
	}
	if c.JudgeFailure != JudgeFailureLenient && c.JudgeFailure != JudgeFailureStrict {
		return fmt.Errorf("judge failure mode must be %q or %q", JudgeFailureLenient, JudgeFailureStrict)
	}
	if c.SimpleThreshold <= 0 || c.MediumThreshold <= c.SimpleThreshold {
		return fmt.Errorf("complexity thresholds must satisfy 0 < simple < medium")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive")
	}
	if c.ShortTermMaxMessages <= 0 {
		return fmt.Errorf("short-term max messages must be positive")
	}
	for _, name := range c.FallbackChain {
		if _, ok := c.Models[name]; !ok {
			return fmt.Errorf("fallback chain references unknown model %q", name)
		}
	}
	for tier, name := range c.TierModels {
		if _, ok := c.Models[name]; !ok {
			return fmt.Errorf("tier %q references unknown model %q", tier, name)
		}
	}
	if c.GenerationModel != "" {
		if _, ok := c.Models[c.GenerationModel]; !ok {
			return fmt.Errorf("generation model %q not configured", c.GenerationModel)
		}
	}
	if c.JudgeModel != "" {
		if _, ok := c.Models[c.JudgeModel]; !ok {
			return fmt.Errorf("judge model %q not configured", c.JudgeModel)
		}
	}
	return nil
}

// ModelNames returns the configured model names in deterministic order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
