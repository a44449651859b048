package memory

import (
	"encoding/json"
	"fmt"
	"os"
)

// VectorStoreConfig configures the backend that persists memories.
type VectorStoreConfig struct {
	Endpoint       string `json:"Endpoint"`
	CollectionName string `json:"CollectionName"`
	ApiKey         string `json:"ApiKey"`
}

// LLMConfig configures the LLM provider used for extract/merge/rerank.
type LLMConfig struct {
	Endpoint string `json:"Endpoint"`
	Model    string `json:"Model"`
	ApiKey   string `json:"ApiKey"`
}

// EmbedderConfig configures the text embedder.
type EmbedderConfig struct {
	Endpoint string `json:"Endpoint"`
	Model    string `json:"Model"`
	ApiKey   string `json:"ApiKey"`
}

// Config is the immutable options bundle passed to each component at
// construction; there is no ambient/global configuration object.
type Config struct {
	VectorStore VectorStoreConfig `json:"VectorStore"`
	LLM         LLMConfig         `json:"LLM"`
	Embedder    EmbedderConfig    `json:"Embedder"`

	// DuplicateThreshold is the similarity cutoff above which a candidate
	// statement is merged into an existing memory instead of inserted.
	// Comparison is score > DuplicateThreshold (similarity, higher means
	// more similar). 0.7 is the single explicit default rather than a
	// range, so merge behavior stays predictable across callers.
	DuplicateThreshold float64 `json:"DuplicateThreshold"`

	// EnableReranking toggles the LLM rerank pass on Search.
	EnableReranking bool `json:"EnableReranking"`

	// HistoryLimit is reserved for future use; no code path consults it.
	HistoryLimit int `json:"HistoryLimit"`
}

// DefaultConfig returns the config applied when a caller supplies none.
var DefaultConfig = &Config{
	VectorStore: VectorStoreConfig{
		CollectionName: "memnet_collection",
	},
	DuplicateThreshold: 0.7,
	EnableReranking:    true,
	HistoryLimit:       10,
}

// configFile is the on-disk shape: a top-level "MemNet" key wrapping Config.
type configFile struct {
	MemNet Config `json:"MemNet"`
}

// LoadConfig reads a JSON file with a top-level "MemNet" key and returns
// the decoded Config. EnableReranking keeps DefaultConfig's value when the
// file omits it; CollectionName and HistoryLimit fall back to
// DefaultConfig's values when left at their zero value (see applyDefaults).
// DuplicateThreshold is taken from the file as is.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigurationError(fmt.Sprintf("read config file: %v", err))
	}

	// Seed the bool before decoding: an explicit false in the file is
	// indistinguishable from an absent key once decoded.
	file := configFile{MemNet: Config{EnableReranking: DefaultConfig.EnableReranking}}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, ConfigurationError(fmt.Sprintf("unmarshal config file: %v", err))
	}

	cfg := file.MemNet
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills a zero CollectionName and HistoryLimit from
// DefaultConfig. DuplicateThreshold is deliberately NOT defaulted when zero,
// since a caller might set 0 intentionally; with the score > threshold
// comparison, 0 merges any candidate whose similarity is above zero.
// Endpoints, models and API keys have no defaults.
func applyDefaults(cfg *Config) {
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = DefaultConfig.VectorStore.CollectionName
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultConfig.HistoryLimit
	}
}

// Validate checks that the configuration is internally consistent enough to
// construct the components it configures. It does not reach out to any
// backend.
func (c *Config) Validate() error {
	if c.DuplicateThreshold < 0 || c.DuplicateThreshold > 1 {
		return ConfigurationError(fmt.Sprintf("DuplicateThreshold must be in [0,1], got %v", c.DuplicateThreshold))
	}
	if c.VectorStore.CollectionName == "" {
		return ConfigurationError("VectorStore.CollectionName is required")
	}
	return nil
}
