// Package ffmpeg provides transport devices backed by ffmpeg subprocesses:
// a microphone reading raw PCM16 from ffmpeg's stdout and a speaker feeding
// ffplay's stdin.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ transport.Microphone = (*Microphone)(nil)
	_ transport.Speaker    = (*Speaker)(nil)
)

// startupGrace is how long ffmpeg must stay alive before capture counts as
// started. Device errors usually make it exit well within this window.
const startupGrace = 250 * time.Millisecond

// ── Microphone ────────────────────────────────────────────────────────────────

// Microphone captures from an ffmpeg input device.
type Microphone struct {
	// Command is the ffmpeg binary. Defaults to "ffmpeg".
	Command string

	// InputFormat is the ffmpeg demuxer, e.g. "pulse", "alsa",
	// "avfoundation". Defaults to "pulse".
	InputFormat string

	// InputDevice is the device name. Defaults to "default".
	InputDevice string

	// Native is the format ffmpeg is asked to produce. Defaults to 48 kHz
	// mono.
	Native audio.Format
}

// Format implements transport.Microphone.
func (m *Microphone) Format() audio.Format {
	if m.Native.Valid() {
		return m.Native
	}
	return audio.Format{SampleRate: 48000, Channels: 1}
}

// Open starts ffmpeg and returns its PCM stream.
func (m *Microphone) Open(ctx context.Context) (io.ReadCloser, error) {
	command := orDefault(m.Command, "ffmpeg")
	f := m.Format()
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", orDefault(m.InputFormat, "pulse"),
		"-i", orDefault(m.InputDevice, "default"),
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg: exited before capture started")
	case <-time.After(startupGrace):
	}

	return &capture{stdout: stdout, stderr: &stderr, process: cmd.Process, waitErr: waitErr}, nil
}

type capture struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (c *capture) Read(p []byte) (int, error) { return c.stdout.Read(p) }

// Close interrupts ffmpeg so it can release the device cleanly, killing it if
// it does not exit promptly.
func (c *capture) Close() error {
	c.stopOnce.Do(func() {
		_ = c.process.Signal(os.Interrupt)

		var err error
		select {
		case err = <-c.waitErr:
		case <-time.After(1200 * time.Millisecond):
			_ = c.process.Kill()
			err = <-c.waitErr
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.stopErr = err
		}
		if cerr := c.stdout.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = cerr
		}
		if c.stopErr != nil && c.stderr.Len() > 0 {
			c.stopErr = fmt.Errorf("%w: %s", c.stopErr, strings.TrimSpace(c.stderr.String()))
		}
	})
	return c.stopErr
}

// ── Speaker ───────────────────────────────────────────────────────────────────

// Speaker renders through ffplay reading raw PCM from stdin.
type Speaker struct {
	// Command is the ffplay binary. Defaults to "ffplay".
	Command string

	// Native is the format handed to ffplay. Defaults to the wire format.
	Native audio.Format

	// Volume is ffplay's 0-100 volume. Defaults to 80.
	Volume int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// Format implements transport.Speaker.
func (s *Speaker) Format() audio.Format {
	if s.Native.Valid() {
		return s.Native
	}
	return audio.Wire
}

// Start launches ffplay if it is not running.
func (s *Speaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Speaker) startLocked() error {
	if s.cmd != nil {
		return nil
	}
	f := s.Format()
	layout := "mono"
	if f.Channels == 2 {
		layout = "stereo"
	}
	volume := s.Volume
	if volume <= 0 {
		volume = 80
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-volume", strconv.Itoa(volume),
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(f.SampleRate),
		"-i", "-",
	}
	cmd := exec.Command(orDefault(s.Command, "ffplay"), args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may otherwise pick a silent dummy backend.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffplay: stdin pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("ffplay: start: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin

	go func() {
		_ = cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Write implements transport.Speaker.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return errors.New("ffplay: not running")
	}
	_, err := stdin.Write(pcm)
	return err
}

// Restart kills ffplay, dropping its internal buffer, and starts a new one.
func (s *Speaker) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked()
}

// Close stops ffplay.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Speaker) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
