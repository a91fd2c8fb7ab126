package audio

import (
	"math"
	"time"
)

// Silence returns n zero bytes. Zeroed PCM16 is digital silence.
func Silence(n int) []byte {
	return make([]byte, n)
}

// Level returns the RMS loudness of PCM16 data normalised to [0, 1]. It is a
// coarse meter for display purposes only.
func Level(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i)) / 32768
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(n)))
}

// Note is one segment of a notification tone.
type Note struct {
	// Hz is the sine frequency. Zero produces a rest.
	Hz float64

	// Duration of the note.
	Duration time.Duration
}

// Tone synthesises a sequence of sine notes as PCM16 in f. gain is the peak
// amplitude in [0, 1]. Each note gets a short linear fade in and out so the
// sequence does not click.
func Tone(f Format, gain float64, notes ...Note) []byte {
	if !f.Valid() {
		return nil
	}
	gain = math.Max(0, math.Min(1, gain))
	fade := f.SampleRate / 200 // 5ms

	var out []byte
	for _, n := range notes {
		frames := f.BytesFor(n.Duration) / f.FrameBytes()
		buf := make([]byte, frames*f.FrameBytes())
		if n.Hz > 0 {
			for i := range frames {
				env := 1.0
				if i < fade {
					env = float64(i) / float64(fade)
				} else if frames-i < fade {
					env = float64(frames-i) / float64(fade)
				}
				v := gain * env * math.Sin(2*math.Pi*n.Hz*float64(i)/float64(f.SampleRate))
				s := int32(v * 32767)
				for ch := range f.Channels {
					putSample(buf, i*f.Channels+ch, s)
				}
			}
		}
		out = append(out, buf...)
	}
	return out
}

// ReadyTone is the two rising notes played once a session is ready to listen.
func ReadyTone(f Format) []byte {
	return Tone(f, 0.25,
		Note{Hz: 660, Duration: 90 * time.Millisecond},
		Note{Duration: 30 * time.Millisecond},
		Note{Hz: 990, Duration: 120 * time.Millisecond},
	)
}

// ToolTone is the single short note played when a tool call starts.
func ToolTone(f Format) []byte {
	return Tone(f, 0.2, Note{Hz: 520, Duration: 80 * time.Millisecond})
}
