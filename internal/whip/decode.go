package whip

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/rtpio"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/media"
)

const trackChannelBuffer = 64

// runVideoTrack depayloads, jitter-buffers and decodes one negotiated
// video track, publishing decoded frames onto out until the track
// read loop ends, then closes out. Grounded on the teacher's
// pkg/bridge.Bridge RTCP-reader goroutine pattern: one goroutine per
// track, running for the track's lifetime, logging and continuing on
// a per-packet error rather than tearing the whole session down.
func (s *Server) runVideoTrack(track *webrtc.TrackRemote, kind DecoderKind, out chan<- event.PipelineEvent[media.Frame], logger *logging.Logger) {
	defer close(out)

	var decoder VideoDecoder
	if s.opts.VideoDecoderFactory != nil {
		d, err := s.opts.VideoDecoderFactory(kind)
		if err != nil {
			logger.Warn("video decoder construction failed", "error", err)
			return
		}
		decoder = d
	}

	depayloader := rtpio.NewDepayloader(media.VideoKind(kind.videoCodec()))
	jb := newJitterBuffer(s.opts.JitterBuffer)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	packets := make(chan *rtp.Packet, trackChannelBuffer)

	go func() {
		defer close(packets)
		for {
			p, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			packets <- p
		}
	}()

	for {
		select {
		case p, ok := <-packets:
			if !ok {
				return
			}
			for _, ev := range depayloader.Depayload(rtpio.RtpInputEvent{Packet: p}) {
				if ev.Kind != rtpio.EventChunk {
					continue
				}
				jb.Push(ev.Chunk)
			}
		case <-ticker.C:
		}
		for _, chunk := range jb.Ready() {
			if decoder == nil {
				continue
			}
			frames, err := decoder.Decode(chunk)
			if err != nil {
				logger.Warn("video decode failed", "error", err)
				continue
			}
			for _, f := range frames {
				out <- event.Data(f)
			}
		}
	}
}

// runAudioTrack is runVideoTrack's audio counterpart. Audio needs no
// jitter buffer of its own: spec 4.6 only names one for video, since
// the mixer's bounded per-input wait (spec 3.3) already absorbs
// reordering at the audio sample-rate timescale.
func (s *Server) runAudioTrack(track *webrtc.TrackRemote, codec media.AudioCodec, out chan<- event.PipelineEvent[media.InputAudioSamples], logger *logging.Logger) {
	defer close(out)

	var decoder AudioDecoder
	if s.opts.AudioDecoderFactory != nil {
		d, err := s.opts.AudioDecoderFactory(codec)
		if err != nil {
			logger.Warn("audio decoder construction failed", "error", err)
			return
		}
		decoder = d
	}

	depayloader := rtpio.NewDepayloader(media.AudioKind(codec))

	for {
		p, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		for _, ev := range depayloader.Depayload(rtpio.RtpInputEvent{Packet: p}) {
			if ev.Kind != rtpio.EventChunk || decoder == nil {
				continue
			}
			batches, err := decoder.Decode(ev.Chunk)
			if err != nil {
				logger.Warn("audio decode failed", "error", err)
				continue
			}
			for _, b := range batches {
				out <- event.Data(b)
			}
		}
	}
}
