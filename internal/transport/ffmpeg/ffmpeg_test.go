package ffmpeg

import (
	"context"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestFormatDefaults(t *testing.T) {
	t.Parallel()
	if got := (&Microphone{}).Format(); got != (audio.Format{SampleRate: 48000, Channels: 1}) {
		t.Errorf("Microphone default = %s", got)
	}
	if got := (&Speaker{}).Format(); got != audio.Wire {
		t.Errorf("Speaker default = %s", got)
	}
	custom := audio.Format{SampleRate: 44100, Channels: 2}
	if got := (&Microphone{Native: custom}).Format(); got != custom {
		t.Errorf("Microphone custom = %s", got)
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	t.Parallel()
	m := &Microphone{Command: "/nonexistent/ffmpeg-binary"}
	if _, err := m.Open(context.Background()); err == nil {
		t.Fatal("expected error for missing ffmpeg binary")
	}
}

func TestSpeaker_WriteBeforeStart(t *testing.T) {
	t.Parallel()
	s := &Speaker{Command: "/nonexistent/ffplay-binary"}
	if err := s.Write([]byte{0, 0}); err == nil {
		t.Error("expected error writing to a stopped speaker")
	}
	if err := s.Start(); err == nil {
		t.Error("expected error starting a missing ffplay binary")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
