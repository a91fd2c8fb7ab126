package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrMisaligned is returned when PCM data does not contain a whole number of
// sample frames for its declared format.
var ErrMisaligned = errors.New("audio: pcm data is not frame aligned")

// Converter converts frames to a fixed target [Format]. It resamples first and
// mixes channels second, so a stereo source headed for mono is never
// resampled twice.
//
// A Converter logs the first format mismatch it sees. Create one per stream;
// it is not meant to be shared across goroutines.
type Converter struct {
	Target Format

	warnOnce sync.Once
}

// NewConverter returns a Converter producing frames in target.
func NewConverter(target Format) *Converter {
	return &Converter{Target: target}
}

// Convert returns frame expressed in the target format. Frames already in the
// target format are returned unchanged without copying. A frame whose data is
// not aligned to its own sample frames yields [ErrMisaligned].
func (c *Converter) Convert(frame AudioFrame) (AudioFrame, error) {
	src := frame.Format()
	if !src.Valid() {
		return AudioFrame{}, fmt.Errorf("audio: invalid source format %s", src)
	}
	if len(frame.Data)%src.FrameBytes() != 0 {
		return AudioFrame{}, fmt.Errorf("%w: %d bytes of %s", ErrMisaligned, len(frame.Data), src)
	}
	if src == c.Target {
		return frame, nil
	}

	c.warnOnce.Do(func() {
		slog.Debug("audio converter: format mismatch, converting",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	pcm := Resample(frame.Data, src.Channels, src.SampleRate, c.Target.SampleRate)
	pcm = Remix(pcm, src.Channels, c.Target.Channels)

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}, nil
}

// Resample converts interleaved PCM16 with the given channel count from
// srcRate to dstRate using linear interpolation per channel. The input is
// returned unchanged when the rates match or are not positive.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * bytesPerSample
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0+(s1-s0)*frac))
		}
	}
	return out
}

// Remix converts interleaved PCM16 between channel counts. Mono is duplicated
// into every output channel; multi-channel input mixed down to mono is
// averaged; any other combination keeps the first dst channels, padding with
// channel 0 when dst has more.
func Remix(pcm []byte, src, dst int) []byte {
	if src == dst || src <= 0 || dst <= 0 {
		return pcm
	}
	frames := len(pcm) / (src * bytesPerSample)
	out := make([]byte, frames*dst*bytesPerSample)

	for i := range frames {
		if dst == 1 {
			var sum int32
			for ch := range src {
				sum += int32(sampleAt(pcm, i*src+ch))
			}
			putSample(out, i, sum/int32(src))
			continue
		}
		for ch := range dst {
			from := ch
			if from >= src {
				from = 0
			}
			putSample(out, i*dst+ch, int32(sampleAt(pcm, i*src+from)))
		}
	}
	return out
}

// sampleAt reads the n-th int16 sample of pcm.
func sampleAt(pcm []byte, n int) int16 {
	return int16(pcm[n*2]) | int16(pcm[n*2+1])<<8
}

// putSample writes v clamped to the int16 range as the n-th sample of pcm.
func putSample(pcm []byte, n int, v int32) {
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	pcm[n*2] = byte(v)
	pcm[n*2+1] = byte(v >> 8)
}
