package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts Frames to a target format. It logs a warning on the
// first format mismatch it sees. Create one per stream; not designed for
// shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts a frame to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: channel convert first, then resample, so stereo input is
// never resampled when the target is mono.
func (c *Converter) Convert(frame Frame) Frame {
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	samples := frame.Samples
	channels := frame.Channels
	rate := frame.SampleRate

	if channels != c.Target.Channels {
		switch {
		case channels == 2 && c.Target.Channels == 1:
			samples = StereoToMono(samples)
		case channels == 1 && c.Target.Channels == 2:
			samples = MonoToStereo(samples)
		}
		channels = c.Target.Channels
	}

	if rate != c.Target.SampleRate {
		samples = Resample(samples, channels, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}

	return Frame{
		Samples:    samples,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

// MonoToStereo duplicates each mono sample into a stereo L+R pair.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each interleaved L+R pair into a single mono sample.
// Uses int32 arithmetic so the sum cannot overflow.
func StereoToMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := range frames {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return out
}

// Resample converts PCM samples from srcRate to dstRate using linear
// interpolation. channels must be 1 or 2; stereo samples are interleaved.
// If srcRate == dstRate, the input is returned unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	if channels < 1 {
		channels = 1
	}

	srcFrames := len(samples) / channels
	if srcFrames < 1 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		for ch := range channels {
			s0 := samples[idx*channels+ch]
			s1 := s0
			if idx+1 < srcFrames {
				s1 = samples[(idx+1)*channels+ch]
			}
			out[i*channels+ch] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
		}
	}
	return out
}

// SamplesToBytes encodes int16 samples as little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToSamples decodes little-endian PCM bytes into int16 samples.
// A trailing odd byte is discarded.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
