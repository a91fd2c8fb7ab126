package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9464", LogLevel: config.LogInfo},
		Realtime: config.RealtimeConfig{
			APIKey:        "k",
			Instructions:  "Be brief.",
			Voice:         "alloy",
			TurnDetection: config.TurnDetectionConfig{Type: "server_vad"},
		},
		Classifier: config.ClassifierConfig{TriggerPhrases: []string{"hey"}},
		Store:      config.StoreConfig{Backend: config.StoreJSONFile, Dir: "/tmp/t"},
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantSession bool
		wantLog     bool
		wantRestart []string
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:        "instructions",
			mutate:      func(c *config.Config) { c.Realtime.Instructions = "Be verbose." },
			wantSession: true,
		},
		{
			name:        "voice",
			mutate:      func(c *config.Config) { c.Realtime.Voice = "verse" },
			wantSession: true,
		},
		{
			name:        "turn detection",
			mutate:      func(c *config.Config) { c.Realtime.TurnDetection.SilenceDurationMs = 700 },
			wantSession: true,
		},
		{
			name:        "model needs restart",
			mutate:      func(c *config.Config) { c.Realtime.Model = "other" },
			wantRestart: []string{"realtime"},
		},
		{
			name: "several sections sorted",
			mutate: func(c *config.Config) {
				c.Store.Dir = "/var/parley"
				c.Classifier.TriggerPhrases = []string{"hey", "parley"}
				c.Server.ListenAddr = ":1"
				c.Location = "Paris"
			},
			wantRestart: []string{"classifier", "location", "server.listen_addr", "store"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tt.mutate(updated)

			c := config.Diff(old, updated)
			if c.Session != tt.wantSession {
				t.Errorf("Session = %v, want %v", c.Session, tt.wantSession)
			}
			if c.LogLevel != tt.wantLog {
				t.Errorf("LogLevel = %v, want %v", c.LogLevel, tt.wantLog)
			}
			if tt.wantLog && c.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", c.NewLogLevel)
			}
			if !slices.Equal(c.Restart, tt.wantRestart) {
				t.Errorf("Restart = %v, want %v", c.Restart, tt.wantRestart)
			}
			wantEmpty := !tt.wantSession && !tt.wantLog && len(tt.wantRestart) == 0
			if c.Empty() != wantEmpty {
				t.Errorf("Empty() = %v, want %v", c.Empty(), wantEmpty)
			}
		})
	}
}
