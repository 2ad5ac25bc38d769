package peer

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"layeh.com/gopus"

	"github.com/voicesync/voicesync/pkg/audio"
)

// VoiceSync transports 48 kHz mono Opus at 20 ms frame size.
const (
	opusSampleRate  = audio.DefaultSampleRate
	opusChannels    = audio.DefaultChannels
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// opusMaxPacket bounds the encoded packet size passed to the encoder.
	opusMaxPacket = 4000
)

// newLocalTrack creates the shared outbound Opus track. The same track is
// attached to every peer connection; pion fans samples out per binding.
func newLocalTrack() (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	}, "audio", "voicesync-mic")
	if err != nil {
		return nil, fmt.Errorf("peer: create local track: %w", err)
	}
	return track, nil
}

// encodeLoop drains mic frames, encodes each 20 ms batch to Opus, and writes
// it to the shared track. It exits when the frame channel closes. Frames in
// other formats are converted before encoding.
func encodeLoop(frames <-chan audio.Frame, track *webrtc.TrackLocalStaticSample, onError func(error)) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		onError(fmt.Errorf("peer: create opus encoder: %w", err))
		audio.Drain(frames)
		return
	}

	conv := audio.Converter{Target: audio.DefaultFormat}
	for frame := range frames {
		pcm := conv.Convert(frame).Samples
		// Encode in exact 20 ms batches; a trailing partial batch is dropped.
		for len(pcm) >= opusFrameSize {
			packet, err := enc.Encode(pcm[:opusFrameSize], opusFrameSize, opusMaxPacket)
			pcm = pcm[opusFrameSize:]
			if err != nil {
				onError(fmt.Errorf("peer: opus encode: %w", err))
				continue
			}
			sample := media.Sample{Data: packet, Duration: opusFrameSizeMs * time.Millisecond}
			if err := track.WriteSample(sample); err != nil {
				onError(fmt.Errorf("peer: write sample: %w", err))
			}
		}
	}
}

// decodeLoop reads RTP from a remote track, decodes the Opus payload, and
// delivers PCM frames on out. It closes out when the track ends.
func decodeLoop(remote *webrtc.TrackRemote, out chan<- audio.Frame, onError func(error)) {
	defer close(out)

	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		onError(fmt.Errorf("peer: create opus decoder: %w", err))
		return
	}

	start := time.Now()
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				onError(fmt.Errorf("peer: read rtp: %w", err))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt.Payload, opusFrameSize, false)
		if err != nil {
			onError(fmt.Errorf("peer: opus decode: %w", err))
			continue
		}
		frame := audio.Frame{
			Samples:    pcm,
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			Timestamp:  time.Since(start),
		}
		select {
		case out <- frame:
		default:
			// Playback is not keeping up; drop rather than stall the reader.
		}
	}
}
