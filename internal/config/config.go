package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/scriptcast/internal/drafts"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/segment"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	setDefaults(cm.v, DefaultConfig())

	// Environment variables with SCRIPTCAST_ prefix, e.g. SCRIPTCAST_BACKEND_BASE_URL
	cm.v.SetEnvPrefix("SCRIPTCAST")
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.scriptcast")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf key so that partial config files and
// environment overrides merge with the defaults instead of replacing whole
// sections.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.api_key", d.Backend.APIKey)
	v.SetDefault("backend.timeout_seconds", d.Backend.TimeoutSeconds)

	v.SetDefault("tts.default_provider", d.TTS.DefaultProvider)
	v.SetDefault("tts.request_delay_ms", d.TTS.RequestDelayMS)
	v.SetDefault("tts.max_retries", d.TTS.MaxRetries)
	v.SetDefault("tts.retry_delay_ms", d.TTS.RetryDelayMS)
	for name, voice := range d.TTS.Providers {
		prefix := "tts.providers." + name + "."
		v.SetDefault(prefix+"voice_id", voice.VoiceID)
		v.SetDefault(prefix+"model", voice.Model)
		v.SetDefault(prefix+"language", voice.Language)
		v.SetDefault(prefix+"speed", voice.Speed)
		v.SetDefault(prefix+"stability", voice.Stability)
		v.SetDefault(prefix+"similarity", voice.Similarity)
	}

	v.SetDefault("segmentation.enabled", d.Segmentation.Enabled)
	v.SetDefault("segmentation.max_chars", d.Segmentation.MaxChars)

	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)

	v.SetDefault("library.backend", d.Library.Backend)
	v.SetDefault("library.mongo_uri", d.Library.MongoURI)
	v.SetDefault("library.database", d.Library.Database)
	v.SetDefault("library.collection", d.Library.Collection)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, or "" when running
// on defaults and environment only.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// SetLogger sets the logger used to report config reloads.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	cm.mu.Lock()
	cm.logger = logger
	cm.mu.Unlock()
}

// WatchConfig enables hot-reloading of configuration. A reload that fails
// to parse or validate is logged and the previous config is kept.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		if err := cm.reload(); err != nil {
			cm.mu.RLock()
			logger := cm.logger
			cm.mu.RUnlock()
			logger.Error("config reload rejected, keeping previous config",
				"file", e.Name, "error", err)
		}
	})
	cm.v.WatchConfig()
}

// reload parses the current viper state and notifies callbacks.
func (cm *Manager) reload() error {
	cfg, err := cm.load()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	logger := cm.logger
	cm.mu.Unlock()

	logger.Info("config reloaded", "file", cm.v.ConfigFileUsed())
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// SegmentOptions converts the segmentation section.
func (c *Config) SegmentOptions() segment.Options {
	return segment.Options{
		Enabled:  c.Segmentation.Enabled,
		MaxChars: c.Segmentation.MaxChars,
	}
}

// ToBackendConfig converts the backend section, resolving ${ENV_VAR} references.
func (c *Config) ToBackendConfig() narration.BackendConfig {
	return narration.BackendConfig{
		BaseURL: c.Backend.BaseURL,
		APIKey:  ResolveEnvVars(c.Backend.APIKey),
		Timeout: time.Duration(c.Backend.TimeoutSeconds) * time.Second,
	}
}

// ToNarrationConfig converts the tts and segmentation sections into
// orchestrator settings.
func (c *Config) ToNarrationConfig() (narration.Config, error) {
	def, err := narration.ParseProvider(c.TTS.DefaultProvider)
	if err != nil {
		return narration.Config{}, err
	}

	voices := make(map[narration.Provider]narration.Voice, len(c.TTS.Providers))
	for name, v := range c.TTS.Providers {
		p, err := narration.ParseProvider(name)
		if err != nil {
			return narration.Config{}, err
		}
		voices[p] = narration.Voice{
			VoiceID:    v.VoiceID,
			Model:      v.Model,
			Language:   v.Language,
			Speed:      v.Speed,
			Stability:  v.Stability,
			Similarity: v.Similarity,
		}
	}

	return narration.Config{
		DefaultProvider: def,
		Voices:          voices,
		Segmentation:    c.SegmentOptions(),
		RequestDelay:    time.Duration(c.TTS.RequestDelayMS) * time.Millisecond,
		MaxRetries:      c.TTS.MaxRetries,
		RetryDelay:      time.Duration(c.TTS.RetryDelayMS) * time.Millisecond,
	}, nil
}

// ToLibraryConfig converts the library section. File backends live under
// homeDir/library.
func (c *Config) ToLibraryConfig(homeDir string) library.OpenConfig {
	return library.OpenConfig{
		Backend:    c.Library.Backend,
		Dir:        filepath.Join(homeDir, "library"),
		MongoURI:   ResolveEnvVars(c.Library.MongoURI),
		Database:   c.Library.Database,
		Collection: c.Library.Collection,
	}
}

// ToDraftsConfig converts the llm section, resolving ${ENV_VAR} references.
func (c *Config) ToDraftsConfig() drafts.Config {
	return drafts.Config{
		APIKey:  ResolveEnvVars(c.LLM.APIKey),
		Model:   c.LLM.Model,
		BaseURL: c.LLM.BaseURL,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := []byte(`# scriptcast configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or a .env file: export OPENAI_API_KEY=xxx SCRIPTCAST_BACKEND_TOKEN=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
