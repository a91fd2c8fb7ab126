package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
realtime:
  api_key: sk-test
  model: gpt-realtime
  instructions: Be brief.
  voice: alloy
  turn_detection:
    type: semantic_vad
    threshold: 0.6
    silence_duration_ms: 400
  connect_timeout: 15s
classifier:
  name: openai
  model: gpt-4o-mini
  timeout: 2s
  context_size: 3
  trigger_phrases: ["hey parley"]
  fuzzy_threshold: 0.9
  fallbacks:
    - name: ollama
      model: llama3
      base_url: http://localhost:11434
audio:
  backend: none
  volume: 80
  warmup: -1s
tools:
  photo:
    snapshot_url: http://cam.local/snapshot.jpg
    retry_window: 10s
  search:
    enabled: true
    transport: streamable-http
    url: http://localhost:8080/mcp
    tool: search
  timeout: 20s
store:
  backend: postgres
  postgres_dsn: postgres://localhost/parley
settings_path: /tmp/parley-settings.yaml
location: Berlin
`

func TestLoadFromReaderFull(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("Server = %+v", cfg.Server)
	}
	rt := cfg.Realtime
	if rt.APIKey != "sk-test" || rt.Voice != "alloy" || rt.ConnectTimeout != 15*time.Second {
		t.Errorf("Realtime = %+v", rt)
	}
	if rt.TurnDetection.Type != "semantic_vad" || rt.TurnDetection.SilenceDurationMs != 400 {
		t.Errorf("TurnDetection = %+v", rt.TurnDetection)
	}
	cl := cfg.Classifier
	if cl.Name != "openai" || cl.Model != "gpt-4o-mini" || cl.ContextSize != 3 || cl.Timeout != 2*time.Second {
		t.Errorf("Classifier = %+v", cl)
	}
	if cl.APIKey != "sk-test" {
		t.Errorf("openai classifier key = %q, want realtime key", cl.APIKey)
	}
	if len(cl.Fallbacks) != 1 || cl.Fallbacks[0].BaseURL != "http://localhost:11434" {
		t.Errorf("Fallbacks = %+v", cl.Fallbacks)
	}
	if cfg.Audio.Backend != config.AudioNone || cfg.Audio.Warmup != -time.Second {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Tools.Photo.SnapshotURL == "" || !cfg.Tools.Search.Enabled || cfg.Tools.Timeout != 20*time.Second {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if cfg.Store.Backend != config.StorePostgres || cfg.Location != "Berlin" {
		t.Errorf("Store = %+v, Location = %q", cfg.Store, cfg.Location)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("realtime:\n  api_key: sk-test\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Realtime.TurnDetection.Type != config.DefaultTurnDetection {
		t.Errorf("TurnDetection.Type = %q", cfg.Realtime.TurnDetection.Type)
	}
	if cfg.Classifier.ContextSize != config.DefaultContextSize {
		t.Errorf("ContextSize = %d", cfg.Classifier.ContextSize)
	}
	if cfg.Audio.Backend != config.AudioFFmpeg || cfg.Store.Backend != config.StoreJSONFile {
		t.Errorf("Audio.Backend = %q, Store.Backend = %q", cfg.Audio.Backend, cfg.Store.Backend)
	}
	if cfg.Store.Dir == "" || cfg.SettingsPath == "" {
		t.Errorf("Store.Dir = %q, SettingsPath = %q; want defaults", cfg.Store.Dir, cfg.SettingsPath)
	}
	if cfg.Classifier.Name != "" {
		t.Errorf("Classifier.Name = %q, want heuristic only", cfg.Classifier.Name)
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "sk-env")
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Realtime.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want sk-env", cfg.Realtime.APIKey)
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil || !strings.Contains(err.Error(), "realtime.api_key") {
		t.Fatalf("err = %v, want realtime.api_key error", err)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "realtime:\n  api_key: k\n  colour: blue\n",
			want: "colour",
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "server.log_level",
		},
		{
			name: "bad turn detection",
			yaml: "realtime:\n  turn_detection:\n    type: push_to_talk\n",
			want: "realtime.turn_detection.type",
		},
		{
			name: "threshold range",
			yaml: "realtime:\n  turn_detection:\n    threshold: 1.5\n",
			want: "threshold",
		},
		{
			name: "classifier without model",
			yaml: "classifier:\n  name: openai\n",
			want: "classifier.model",
		},
		{
			name: "fallback without primary",
			yaml: "classifier:\n  fallbacks:\n    - name: ollama\n      model: llama3\n",
			want: "requires a primary",
		},
		{
			name: "fallback without name",
			yaml: "classifier:\n  name: openai\n  model: m\n  fallbacks:\n    - model: llama3\n",
			want: "classifier.fallbacks[0].name",
		},
		{
			name: "fuzzy threshold",
			yaml: "classifier:\n  fuzzy_threshold: 2\n",
			want: "fuzzy_threshold",
		},
		{
			name: "audio backend",
			yaml: "audio:\n  backend: alsa\n",
			want: "audio.backend",
		},
		{
			name: "volume",
			yaml: "audio:\n  volume: 150\n",
			want: "audio.volume",
		},
		{
			name: "channels",
			yaml: "audio:\n  channels: 6\n",
			want: "audio.channels",
		},
		{
			name: "search without tool",
			yaml: "tools:\n  search:\n    enabled: true\n    transport: stdio\n    command: srv\n",
			want: "tools.search",
		},
		{
			name: "postgres without dsn",
			yaml: "store:\n  backend: postgres\n",
			want: "store.postgres_dsn",
		},
		{
			name: "store backend",
			yaml: "store:\n  backend: redis\n",
			want: "store.backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// Every case supplies an API key so only the targeted error fires.
			doc := tt.yaml
			if !strings.Contains(doc, "realtime:") {
				doc += "realtime:\n  api_key: k\n"
			} else if !strings.Contains(doc, "api_key") {
				doc = strings.Replace(doc, "realtime:\n", "realtime:\n  api_key: k\n", 1)
			}
			_, err := config.LoadFromReader(strings.NewReader(doc))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSearchDisabledSkipsValidation(t *testing.T) {
	t.Parallel()
	doc := "realtime:\n  api_key: k\ntools:\n  search:\n    transport: carrier-pigeon\n"
	if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
		t.Errorf("disabled search should not be validated: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Realtime.Instructions != "Be brief." {
		t.Errorf("Instructions = %q", cfg.Realtime.Instructions)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
