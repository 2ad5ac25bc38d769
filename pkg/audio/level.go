package audio

import "math"

// SpeakingThreshold is the normalised RMS level above which a participant is
// considered to be speaking.
const SpeakingThreshold = 0.01

// RMS computes the root-mean-square level of a sample batch, normalised to
// [0, 1] where 1 corresponds to full-scale int16. An empty batch has level 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDetector tracks whether a stream of sample batches is above the
// speaking threshold and reports transitions. Not safe for concurrent use;
// create one per stream.
type LevelDetector struct {
	// Threshold is the RMS level above which the stream counts as speaking.
	// Zero means [SpeakingThreshold].
	Threshold float64

	speaking bool
}

// Update feeds one sample batch and reports the current speaking state plus
// whether it changed relative to the previous batch. Observers should only
// be notified when changed is true.
func (d *LevelDetector) Update(samples []int16) (speaking, changed bool) {
	threshold := d.Threshold
	if threshold == 0 {
		threshold = SpeakingThreshold
	}
	now := RMS(samples) > threshold
	changed = now != d.speaking
	d.speaking = now
	return now, changed
}

// Speaking reports the state after the most recent [LevelDetector.Update].
func (d *LevelDetector) Speaking() bool {
	return d.speaking
}
