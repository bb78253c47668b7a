package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.CacheL1TTL)
	assert.Equal(t, DefaultQualityThreshold, cfg.QualityThreshold)
	assert.Equal(t, DefaultMinQualityScore, cfg.MinQualityScore)
	assert.True(t, cfg.EnableFallback)
	assert.Equal(t, JudgeFailureLenient, cfg.JudgeFailure)
	assert.Equal(t, DefaultTopK, cfg.RetrievalTopK)
	assert.Equal(t, DefaultShortTermMaxMessages, cfg.ShortTermMaxMessages)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragpipe.toml")
	content := `
[server]
port = 9090

[cache]
l1_ttl_seconds = 120
doc_set_version = "v7"

[judge]
model = "judge-model"
quality_threshold = 0.8
failure_mode = "strict"

[routing]
min_quality_score = 0.9
fallback_chain = ["small", "big"]

[routing.tier_models]
simple = "small"
medium = "small"
complex = "big"

[generation]
model = "small"
max_tokens = 256

[retrieval]
base_url = "http://localhost:9200/"
top_k = 5

[models.small]
provider = "ollama"
model_id = "llama3.2:3b"
endpoint = "http://localhost:11434"
cost_per_1k_tokens = 0.0001
quality_tier = "low"

[models.big]
provider = "openai"
model_id = "gpt-4o"
endpoint = "https://api.openai.com/v1"
cost_per_1k_tokens = 0.01
quality_tier = "high"

[models.judge-model]
provider = "openai"
model_id = "gpt-4o-mini"
endpoint = "https://api.openai.com/v1"
cost_per_1k_tokens = 0.001
quality_tier = "medium"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 2*time.Minute, cfg.CacheL1TTL)
	assert.Equal(t, "v7", cfg.DocSetVersion)
	assert.Equal(t, "judge-model", cfg.JudgeModel)
	assert.Equal(t, 0.8, cfg.QualityThreshold)
	assert.Equal(t, JudgeFailureStrict, cfg.JudgeFailure)
	assert.Equal(t, 0.9, cfg.MinQualityScore)
	assert.Equal(t, []string{"small", "big"}, cfg.FallbackChain)
	assert.Equal(t, "small", cfg.TierModels["simple"])
	assert.Equal(t, "small", cfg.GenerationModel)
	assert.Equal(t, 256, cfg.GenerationMaxTokens)
	assert.Equal(t, "http://localhost:9200", cfg.RetrievalBaseURL, "trailing slash is trimmed")
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.Equal(t, "llama3.2:3b", cfg.Models["small"].ModelID)
	assert.Equal(t, "high", cfg.Models["big"].QualityTier)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RAGPIPE_SERVER_PORT", "7070")
	t.Setenv("RAGPIPE_LOG_LEVEL", "debug")
	t.Setenv("RAGPIPE_QUALITY_THRESHOLD", "0.85")
	t.Setenv("RAGPIPE_ENABLE_FALLBACK", "false")
	t.Setenv("RAGPIPE_DOC_SET_VERSION", "v9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.ServerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.85, cfg.QualityThreshold)
	assert.False(t, cfg.EnableFallback)
	assert.Equal(t, "v9", cfg.DocSetVersion)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := defaults()
	cfg.ServerPort = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadFailureMode(t *testing.T) {
	cfg := defaults()
	cfg.JudgeFailure = "optimistic"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownChainModel(t *testing.T) {
	cfg := defaults()
	cfg.FallbackChain = []string{"ghost-model"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTierModel(t *testing.T) {
	cfg := defaults()
	cfg.TierModels["simple"] = "ghost-model"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := defaults()
	cfg.SimpleThreshold = 0.6
	cfg.MediumThreshold = 0.3
	assert.Error(t, cfg.Validate())
}

func TestModelNamesSorted(t *testing.T) {
	cfg := defaults()
	cfg.Models["zeta"] = ModelDescriptor{}
	cfg.Models["alpha"] = ModelDescriptor{}
	cfg.Models["mid"] = ModelDescriptor{}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, cfg.ModelNames())
}
