package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/pkg/conversation"
)

type fakeController struct {
	mu       sync.Mutex
	calls    []string
	muted    bool
	startErr error
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeController) Connect(context.Context) error {
	f.record("connect")
	return nil
}

func (f *fakeController) ForceResponse() error {
	f.record("respond")
	return nil
}

func (f *fakeController) StartListening() error {
	f.record("listen")
	return f.startErr
}

func (f *fakeController) ToggleMute() bool {
	f.record("mute")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted
}

func TestConsoleRunCommands(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := newConsole(&out)
	ctl := &fakeController{startErr: errors.New("session is not configured")}

	err := c.run(context.Background(), strings.NewReader("m\nr\n\nl\nc\nx\nm\nq\nr\n"), ctl)
	if !errors.Is(err, errQuit) {
		t.Fatalf("run = %v, want errQuit", err)
	}

	want := []string{"mute", "respond", "listen", "connect", "mute"}
	if !slices.Equal(ctl.calls, want) {
		t.Errorf("calls = %v, want %v", ctl.calls, want)
	}
	for _, s := range []string{"[muted]", "[unmuted]", `unknown command "x"`, "[l failed] session is not configured"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output missing %q:\n%s", s, out.String())
		}
	}
}

func TestConsoleRunWaitsAfterEOF(t *testing.T) {
	t.Parallel()
	c := newConsole(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.run(ctx, strings.NewReader(""), &fakeController{}) }()

	select {
	case err := <-done:
		t.Fatalf("run returned %v before cancellation", err)
	default:
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run = %v, want nil", err)
	}
}

func TestConsoleRender(t *testing.T) {
	t.Parallel()
	c := newConsole(io.Discard)

	user := conversation.Message{ID: "u1", Role: conversation.RoleUser, Text: conversation.Placeholder}
	steps := []struct {
		snap engine.Snapshot
		want []string
	}{
		{
			snap: engine.Snapshot{State: engine.StateConfigured, Voice: engine.VoiceListening},
			want: []string{"[session configured]", "[listening]"},
		},
		{
			snap: engine.Snapshot{State: engine.StateConfigured, Voice: engine.VoiceListening, Messages: []conversation.Message{user}},
			want: nil,
		},
		{
			snap: engine.Snapshot{State: engine.StateConfigured, Voice: engine.VoiceProcessing, Messages: []conversation.Message{
				{ID: "u1", Role: conversation.RoleUser, Text: "what time is it"},
			}},
			want: []string{"[processing]", "you: what time is it"},
		},
		{
			snap: engine.Snapshot{State: engine.StateConfigured, Voice: engine.VoiceSpeaking, Messages: []conversation.Message{
				{ID: "u1", Role: conversation.RoleUser, Text: "what time is it"},
				{ID: "t1", Role: conversation.RoleAssistant, Kind: conversation.KindTool, Text: "Searching the web…"},
				{ID: "a1", Role: conversation.RoleAssistant, Text: "It is noon."},
			}},
			want: []string{"[speaking]", "  · Searching the web…", "assistant: It is noon."},
		},
		{
			snap: engine.Snapshot{State: engine.StateError, ErrMessage: "Check your network connection."},
			want: []string{"[session error]", "[error] Check your network connection.", "[idle]"},
		},
	}
	for i, step := range steps {
		got := c.render(step.snap)
		if !slices.Equal(got, step.want) {
			t.Errorf("step %d: render = %q, want %q", i, got, step.want)
		}
	}
}

func TestConsoleObserveNeverBlocks(t *testing.T) {
	t.Parallel()
	c := newConsole(io.Discard)
	for range cap(c.updates) + 5 {
		c.observe(engine.Snapshot{})
	}
	if len(c.updates) != cap(c.updates) {
		t.Errorf("queued %d updates, want %d", len(c.updates), cap(c.updates))
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEngineConfigFromFile(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Realtime: config.RealtimeConfig{
			Instructions:       "Be brief.",
			Voice:              "verse",
			TranscriptionModel: "whisper-1",
			TurnDetection:      config.TurnDetectionConfig{Type: "server_vad", Threshold: 0.5, SilenceDurationMs: 500},
		},
		Classifier: config.ClassifierConfig{ContextSize: 4},
		Audio:      config.AudioConfig{Warmup: -1},
	}
	ec := engineConfig(cfg)
	if ec.Instructions != "Be brief." || ec.Voice != "verse" || ec.TranscriptionModel != "whisper-1" {
		t.Errorf("engineConfig = %+v", ec)
	}
	if ec.TurnDetection.Threshold != 0.5 || ec.TurnDetection.SilenceDurationMs != 500 || ec.TurnDetection.CreateResponse {
		t.Errorf("TurnDetection = %+v", ec.TurnDetection)
	}
	if ec.WindowSize != 4 || ec.Warmup != -1 {
		t.Errorf("WindowSize = %d, Warmup = %v", ec.WindowSize, ec.Warmup)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	s := statusOf(engine.Snapshot{
		State:      engine.StateConfigured,
		Voice:      engine.VoiceListening,
		Configured: true,
		ThreadID:   "t",
		Messages:   make([]conversation.Message, 3),
	})
	if s.State != "configured" || s.Voice != "listening" || !s.Configured || s.Messages != 3 {
		t.Errorf("statusOf = %+v", s)
	}
}
