package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the subset of a checkpoint's config.json the runtime needs.
type Config struct {
	ModelType         string  `json:"model_type"`
	HiddenSize        int     `json:"hidden_size"`
	IntermediateSize  int     `json:"intermediate_size"`
	NumHiddenLayers   int     `json:"num_hidden_layers"`
	NumAttentionHeads int     `json:"num_attention_heads"`
	NumKeyValueHeads  int     `json:"num_key_value_heads"`
	VocabSize         int     `json:"vocab_size"`
	RMSNormEps        float64 `json:"rms_norm_eps"`
	RopeTheta         float64 `json:"rope_theta"`
	TieWordEmbeddings bool    `json:"tie_word_embeddings"`

	// Vision-language configs nest the text model's config.
	TextConfig *Config `json:"text_config,omitempty"`
}

// LoadConfig reads and normalizes config.json from a model directory.
// For vision-language checkpoints, the nested text_config wins for the
// language-model dimensions.
func LoadConfig(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("read config.json: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	if cfg.TextConfig != nil {
		text := *cfg.TextConfig
		text.ModelType = cfg.ModelType
		cfg = text
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NumKeyValueHeads == 0 {
		c.NumKeyValueHeads = c.NumAttentionHeads
	}
	if c.RMSNormEps == 0 {
		c.RMSNormEps = 1e-5
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = 10000
	}
}

func (c *Config) validate() error {
	switch {
	case c.HiddenSize <= 0:
		return fmt.Errorf("config: hidden_size %d", c.HiddenSize)
	case c.IntermediateSize <= 0:
		return fmt.Errorf("config: intermediate_size %d", c.IntermediateSize)
	case c.NumHiddenLayers <= 0:
		return fmt.Errorf("config: num_hidden_layers %d", c.NumHiddenLayers)
	case c.NumAttentionHeads <= 0:
		return fmt.Errorf("config: num_attention_heads %d", c.NumAttentionHeads)
	case c.VocabSize <= 0:
		return fmt.Errorf("config: vocab_size %d", c.VocabSize)
	case c.HiddenSize%c.NumAttentionHeads != 0:
		return fmt.Errorf("config: hidden_size %d not divisible by %d heads",
			c.HiddenSize, c.NumAttentionHeads)
	case c.NumAttentionHeads%c.NumKeyValueHeads != 0:
		return fmt.Errorf("config: %d heads not divisible by %d kv heads",
			c.NumAttentionHeads, c.NumKeyValueHeads)
	}
	return nil
}

// HeadDim returns the per-head dimension.
func (c *Config) HeadDim() int {
	return c.HiddenSize / c.NumAttentionHeads
}
