package audio

import "time"

// Frame represents a single batch of PCM audio flowing through the session.
// Frames are the atomic unit of audio transport: captured from the
// microphone, encoded for the peer connection, and played back from
// remote tracks.
type Frame struct {
	// Samples holds signed 16-bit PCM samples. For stereo audio the
	// channels are interleaved (L, R, L, R, ...).
	Samples []int16

	// SampleRate in Hz (48000 throughout VoiceSync).
	SampleRate int

	// Channels: 1 for mono microphone capture, 2 for stereo playback devices.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the session-wide transport format.
var DefaultFormat = Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
