package config

import (
	"errors"
	"fmt"
	"sort"
)

// Config holds scriptcast configuration.
// Stored at: $HOME/.scriptcast/config.yaml
type Config struct {
	Backend      BackendCfg      `mapstructure:"backend" yaml:"backend"`
	TTS          TTSCfg          `mapstructure:"tts" yaml:"tts"`
	Segmentation SegmentationCfg `mapstructure:"segmentation" yaml:"segmentation"`
	LLM          LLMCfg          `mapstructure:"llm" yaml:"llm"`
	Library      LibraryCfg      `mapstructure:"library" yaml:"library"`
}

// BackendCfg points at the automation backend that performs synthesis.
type BackendCfg struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// TTSCfg configures how narration jobs talk to the backend.
type TTSCfg struct {
	DefaultProvider string              `mapstructure:"default_provider" yaml:"default_provider"` // elevenlabs, free, local
	RequestDelayMS  int                 `mapstructure:"request_delay_ms" yaml:"request_delay_ms"` // pause between segment requests
	MaxRetries      int                 `mapstructure:"max_retries" yaml:"max_retries"`           // retries on HTTP 429
	RetryDelayMS    int                 `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`     // fallback when Retry-After is absent
	Providers       map[string]VoiceCfg `mapstructure:"providers" yaml:"providers"`
}

// VoiceCfg holds the voice parameters sent with every request to a provider.
type VoiceCfg struct {
	VoiceID    string  `mapstructure:"voice_id" yaml:"voice_id"`
	Model      string  `mapstructure:"model" yaml:"model"`
	Language   string  `mapstructure:"language" yaml:"language"`
	Speed      float64 `mapstructure:"speed" yaml:"speed"`
	Stability  float64 `mapstructure:"stability" yaml:"stability"`
	Similarity float64 `mapstructure:"similarity" yaml:"similarity"`
}

// SegmentationCfg controls how scripts are split before synthesis.
type SegmentationCfg struct {
	Enabled  bool `mapstructure:"enabled" yaml:"enabled"`
	MaxChars int  `mapstructure:"max_chars" yaml:"max_chars"`
}

// LLMCfg configures the OpenAI-compatible endpoint used for drafting.
type LLMCfg struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model   string `mapstructure:"model" yaml:"model"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"` // empty = api.openai.com
}

// LibraryCfg selects where generated titles, premises and scripts live.
type LibraryCfg struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // file, mongo, memory
	MongoURI   string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	Database   string `mapstructure:"database" yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendCfg{
			BaseURL:        "http://localhost:3001",
			APIKey:         "${SCRIPTCAST_BACKEND_TOKEN}",
			TimeoutSeconds: 300,
		},
		TTS: TTSCfg{
			DefaultProvider: "elevenlabs",
			RequestDelayMS:  1000,
			MaxRetries:      3,
			RetryDelayMS:    5000,
			Providers: map[string]VoiceCfg{
				"elevenlabs": {
					VoiceID:    "21m00Tcm4TlvDq8ikWAM",
					Model:      "eleven_multilingual_v2",
					Stability:  0.5,
					Similarity: 0.75,
				},
				"free": {
					Language: "en",
				},
				"local": {
					VoiceID: "default",
					Speed:   1.0,
				},
			},
		},
		Segmentation: SegmentationCfg{
			Enabled:  true,
			MaxChars: 4000,
		},
		LLM: LLMCfg{
			APIKey: "${OPENAI_API_KEY}",
			Model:  "gpt-4o-mini",
		},
		Library: LibraryCfg{
			Backend:    "file",
			Database:   "scriptcast",
			Collection: "library",
		},
	}
}

var knownProviders = map[string]bool{"elevenlabs": true, "free": true, "local": true}

var knownLibraryBackends = map[string]bool{"file": true, "mongo": true, "memory": true}

// Validate reports configuration errors that would otherwise surface only
// when the first narration job starts.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Segmentation.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("segmentation.max_chars must be positive, got %d", c.Segmentation.MaxChars))
	}
	if !knownProviders[c.TTS.DefaultProvider] {
		errs = append(errs, fmt.Errorf("tts.default_provider: unknown provider %q", c.TTS.DefaultProvider))
	}
	for _, name := range c.ProviderNames() {
		if !knownProviders[name] {
			errs = append(errs, fmt.Errorf("tts.providers: unknown provider %q", name))
		}
	}
	if c.TTS.RequestDelayMS < 0 {
		errs = append(errs, errors.New("tts.request_delay_ms must not be negative"))
	}
	if c.TTS.MaxRetries < 0 {
		errs = append(errs, errors.New("tts.max_retries must not be negative"))
	}
	if !knownLibraryBackends[c.Library.Backend] {
		errs = append(errs, fmt.Errorf("library.backend: unknown backend %q", c.Library.Backend))
	}
	if c.Library.Backend == "mongo" && c.Library.MongoURI == "" {
		errs = append(errs, errors.New("library.mongo_uri is required for the mongo backend"))
	}

	return errors.Join(errs...)
}

// ProviderNames returns the configured provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.TTS.Providers))
	for name := range c.TTS.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
