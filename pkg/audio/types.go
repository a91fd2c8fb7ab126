// Package audio holds the PCM primitives shared by the audio transport and the
// session engine: the [AudioFrame] unit, [Format] descriptions, format
// conversion, silence and loudness helpers, and notification tone synthesis.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// there is more than one channel.
package audio

import (
	"fmt"
	"time"
)

// bytesPerSample is the width of a single PCM16 sample.
const bytesPerSample = 2

// Wire is the fixed format exchanged with the realtime conversation service:
// 24 kHz mono PCM16.
var Wire = Format{SampleRate: 24000, Channels: 1}

// Format describes the sample rate and channel count of a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f describes a usable stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameBytes returns the size in bytes of one interleaved sample frame
// (one sample per channel).
func (f Format) FrameBytes() int {
	return f.Channels * bytesPerSample
}

// BytesFor returns the number of bytes needed to hold d of audio in f,
// rounded down to a whole sample frame.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameBytes()
}

// Duration returns the playback length of n bytes of PCM in f.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / f.FrameBytes()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// AudioFrame is one chunk of PCM16 audio together with its format.
type AudioFrame struct {
	// Data is little-endian PCM16, interleaved for multi-channel formats.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the capture offset relative to the start of the stream.
	Timestamp time.Duration
}

// Format returns the frame's format.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}
