package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultTurnDetection = "server_vad"
	DefaultContextSize   = 5
)

// APIKeyEnv is consulted when no API key is configured.
const APIKeyEnv = "OPENAI_API_KEY"

// TurnDetectionTypes lists the accepted realtime.turn_detection.type values.
var TurnDetectionTypes = []string{"server_vad", "semantic_vad"}

// ClassifierProviders lists known classifier backend names. Unknown names
// are reported with a warning; they may be registered by the caller.
var ClassifierProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. API keys fall back to [APIKeyEnv].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Realtime.APIKey == "" {
		cfg.Realtime.APIKey = os.Getenv(APIKeyEnv)
	}
	if cfg.Realtime.TurnDetection.Type == "" {
		cfg.Realtime.TurnDetection.Type = DefaultTurnDetection
	}
	if cfg.Classifier.Name == "openai" && cfg.Classifier.APIKey == "" {
		cfg.Classifier.APIKey = cfg.Realtime.APIKey
	}
	if cfg.Classifier.ContextSize == 0 {
		cfg.Classifier.ContextSize = DefaultContextSize
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = AudioFFmpeg
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreJSONFile
	}
	if cfg.Store.Backend == StoreJSONFile && cfg.Store.Dir == "" {
		cfg.Store.Dir = filepath.Join(dataDir(), "threads")
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(dataDir(), "settings.yaml")
	}
}

// dataDir is where parley keeps its files unless configured otherwise.
func dataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "parley"
	}
	return filepath.Join(base, "parley")
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Realtime
	rt := cfg.Realtime
	if rt.APIKey == "" {
		errs = append(errs, fmt.Errorf("realtime.api_key is required (or set %s)", APIKeyEnv))
	}
	if rt.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("realtime.connect_timeout %s must not be negative", rt.ConnectTimeout))
	}
	td := rt.TurnDetection
	if td.Type != "" && !slices.Contains(TurnDetectionTypes, td.Type) {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.type %q is invalid; valid values: %v", td.Type, TurnDetectionTypes))
	}
	if td.Threshold < 0 || td.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.turn_detection.threshold %.2f is out of range [0, 1]", td.Threshold))
	}
	if td.PrefixPaddingMs < 0 || td.SilenceDurationMs < 0 {
		errs = append(errs, errors.New("realtime.turn_detection durations must not be negative"))
	}

	// Classifier
	cl := cfg.Classifier
	for i, p := range append([]ProviderEntry{cl.ProviderEntry}, cl.Fallbacks...) {
		prefix := "classifier"
		if i > 0 {
			prefix = fmt.Sprintf("classifier.fallbacks[%d]", i-1)
		}
		if p.Name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
			continue
		}
		validateProviderName(prefix, p.Name)
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required when a provider is set", prefix))
		}
	}
	if cl.Name == "" && len(cl.Fallbacks) > 0 {
		errs = append(errs, errors.New("classifier.fallbacks requires a primary classifier provider"))
	}
	if cl.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout %s must not be negative", cl.Timeout))
	}
	if cl.ContextSize < 0 {
		errs = append(errs, fmt.Errorf("classifier.context_size %d must not be negative", cl.ContextSize))
	}
	if cl.FuzzyThreshold < 0 || cl.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("classifier.fuzzy_threshold %.2f is out of range [0, 1]", cl.FuzzyThreshold))
	}

	// Audio
	au := cfg.Audio
	if au.Backend != "" && !au.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: ffmpeg, none", au.Backend))
	}
	if au.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", au.SampleRate))
	}
	if au.Channels < 0 || au.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", au.Channels))
	}
	if au.Volume < 0 || au.Volume > 100 {
		errs = append(errs, fmt.Errorf("audio.volume %d is out of range [0, 100]", au.Volume))
	}

	// Tools
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout %s must not be negative", cfg.Tools.Timeout))
	}
	if cfg.Tools.Photo.RetryWindow < 0 || cfg.Tools.Photo.RetryInterval < 0 {
		errs = append(errs, errors.New("tools.photo retry durations must not be negative"))
	}
	if cfg.Tools.Search.Enabled {
		if err := cfg.Tools.Search.MCP().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tools.search: %w", err))
		}
	}

	// Store
	st := cfg.Store
	if st.Backend != "" && !st.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: jsonfile, postgres, none", st.Backend))
	}
	if st.Backend == StorePostgres && st.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not a known provider.
func validateProviderName(field, name string) {
	if slices.Contains(ClassifierProviders, name) {
		return
	}
	slog.Warn("unknown classifier provider name, may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", ClassifierProviders,
	)
}

// decodeBytes is [LoadFromReader] over an in-memory file.
func decodeBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
