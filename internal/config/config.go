// Package config provides the configuration schema, loader, live-reload
// watcher and classifier provider registry for parley.
package config

import (
	"time"

	"github.com/MrWong99/parley/internal/search/mcpsearch"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects the local audio devices.
type AudioBackend string

const (
	// AudioFFmpeg captures with ffmpeg and plays with ffplay.
	AudioFFmpeg AudioBackend = "ffmpeg"

	// AudioNone uses a silent microphone and a discarding speaker.
	AudioNone AudioBackend = "none"
)

// IsValid reports whether b is a recognised audio backend.
func (b AudioBackend) IsValid() bool { return b == AudioFFmpeg || b == AudioNone }

// StoreBackend selects where conversation threads are persisted.
type StoreBackend string

const (
	StoreJSONFile StoreBackend = "jsonfile"
	StorePostgres StoreBackend = "postgres"
	StoreNone     StoreBackend = "none"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreJSONFile, StorePostgres, StoreNone:
		return true
	}
	return false
}

// Config is the root configuration, typically loaded with [Load].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Audio      AudioConfig      `yaml:"audio"`
	Tools      ToolsConfig      `yaml:"tools"`
	Store      StoreConfig      `yaml:"store"`

	// SettingsPath is the YAML file holding memories and tool switches.
	SettingsPath string `yaml:"settings_path"`

	// Location is a free-form description of where the user is, added to
	// the assistant's instructions.
	Location string `yaml:"location"`
}

// ServerConfig configures the health and metrics endpoint and logging.
type ServerConfig struct {
	// ListenAddr is the address of the /healthz, /readyz and /metrics
	// server. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig configures the conversation service connection and the
// session it sets up.
type RealtimeConfig struct {
	URL    string `yaml:"url"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`

	// Instructions, Voice and TurnDetection are applied to a live session
	// when the file changes.
	Instructions  string              `yaml:"instructions"`
	Voice         string              `yaml:"voice"`
	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`

	TranscriptionModel string        `yaml:"transcription_model"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// TurnDetectionConfig tunes the service's voice-activity detection.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// ProviderEntry selects a completion backend registered in the [Registry].
type ProviderEntry struct {
	// Name is the registered provider name, e.g. "openai" or "anthropic".
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// ClassifierConfig configures the intent classifier. Without a provider
// name only the local heuristic is used.
type ClassifierConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Timeout time.Duration `yaml:"timeout"`

	// ContextSize is the number of recent utterances sent with each
	// classification.
	ContextSize int `yaml:"context_size"`

	// TriggerPhrases replace the heuristic's default phrase list.
	TriggerPhrases []string `yaml:"trigger_phrases"`

	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// AudioConfig configures the local audio devices.
type AudioConfig struct {
	Backend AudioBackend `yaml:"backend"`

	// InputFormat and InputDevice are passed to ffmpeg's -f and -i.
	InputFormat string `yaml:"input_format"`
	InputDevice string `yaml:"input_device"`

	FFmpegPath string `yaml:"ffmpeg_path"`
	FFplayPath string `yaml:"ffplay_path"`

	// SampleRate and Channels are the device-native capture format.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Volume is the playback volume, 0-100.
	Volume int `yaml:"volume"`

	// Warmup delays auto-listen after configuration. Negative disables it.
	Warmup time.Duration `yaml:"warmup"`

	FrameDuration time.Duration `yaml:"frame_duration"`
}

// ToolsConfig configures the functions offered to the assistant.
type ToolsConfig struct {
	Photo  PhotoToolConfig  `yaml:"photo"`
	Search SearchToolConfig `yaml:"search"`
	Memory MemoryToolConfig `yaml:"memory"`

	// Timeout bounds a single tool call.
	Timeout time.Duration `yaml:"timeout"`
}

// PhotoToolConfig configures capture_photo. The tool is registered when a
// snapshot URL is set.
type PhotoToolConfig struct {
	SnapshotURL   string        `yaml:"snapshot_url"`
	RetryWindow   time.Duration `yaml:"retry_window"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// SearchToolConfig configures web_search over an MCP server.
type SearchToolConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Transport     mcpsearch.Transport `yaml:"transport"`
	Command       string              `yaml:"command"`
	Env           map[string]string   `yaml:"env"`
	URL           string              `yaml:"url"`
	Tool          string              `yaml:"tool"`
	QueryArgument string              `yaml:"query_argument"`
}

// MCP returns the search client configuration.
func (c SearchToolConfig) MCP() mcpsearch.Config {
	return mcpsearch.Config{
		Transport:     c.Transport,
		Command:       c.Command,
		Env:           c.Env,
		URL:           c.URL,
		Tool:          c.Tool,
		QueryArgument: c.QueryArgument,
	}
}

// MemoryToolConfig configures manage_memory.
type MemoryToolConfig struct {
	// Disabled removes the tool. Memories already saved are still added to
	// the instructions.
	Disabled bool `yaml:"disabled"`
}

// StoreConfig configures thread persistence.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// Dir is the jsonfile thread directory.
	Dir string `yaml:"dir"`

	PostgresDSN string `yaml:"postgres_dsn"`
}
