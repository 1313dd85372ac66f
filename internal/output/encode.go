package output

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/rtpio"
	"github.com/smelter-run/smelter/internal/workerthread"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

// VideoEncoder is the typed encoder abstraction the core consumes but
// never constructs itself (out of core scope per spec 1 — the real
// implementation wraps FFmpeg/Vulkan video). forceKeyframe mirrors the
// keyframe-request channel's effect on the next call.
type VideoEncoder interface {
	Encode(frame media.Frame, forceKeyframe bool) (media.EncodedChunk, error)
}

// AudioEncoder is the audio analog of VideoEncoder.
type AudioEncoder interface {
	Encode(samples media.OutputAudioSamples) (media.EncodedChunk, error)
}

// PacketSink is the wire/file collaborator an output adapter supplies
// — a UDP socket, a TCP-framed server, an MP4 muxer. The payloader
// thread writes into it; it never flows back into the pipeline.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
	WriteRTCP([]rtcp.Packet) error
}

// VideoChainOptions configures one output's video encode/payload
// chain, per spec 4.2's "receive -> (resample) -> encode -> (payload)
// -> publish" shape applied to the output direction.
type VideoChainOptions struct {
	OutputId   ids.OutputId
	Kind       media.MediaKind
	Encoder    VideoEncoder
	Sink       PacketSink
	MTU        int
	SSRC       uint32
	InitialSeq uint16
}

// VideoChainHandle is the SpawnOutput a video encode chain publishes
// on successful construction.
type VideoChainHandle struct {
	Frames   chan<- event.PipelineEvent[media.Frame]
	Keyframe *KeyframeRequester
}

// SpawnVideoChain constructs and starts one output's video encode/
// payload chain, following the construction contract in
// internal/workerthread: init binds the sender the caller stores,
// then the goroutine runs for the chain's lifetime, converting Frame
// events to payloaded RTP packets on Sink and emitting an RTCP BYE
// when the chain observes EOS, per spec 4.7.
func SpawnVideoChain(opts VideoChainOptions) (VideoChainHandle, error) {
	logger := logging.Default().With("component", "output.video", "output_id", opts.OutputId.String())
	frameCh := make(chan event.PipelineEvent[media.Frame], 5)
	kf := NewKeyframeRequester(logger)

	out, err := workerthread.Spawn(func() (VideoChainHandle, func(), error) {
		if opts.Encoder == nil {
			return VideoChainHandle{}, nil, fmt.Errorf("spawn video chain %s: no encoder supplied", opts.OutputId)
		}
		payloader := rtpio.NewPayloader(opts.Kind, opts.SSRC, opts.InitialSeq)
		handle := VideoChainHandle{Frames: frameCh, Keyframe: kf}
		run := func() {
			runVideoChain(opts, frameCh, payloader, kf, logger)
		}
		return handle, run, nil
	})
	if err != nil {
		return VideoChainHandle{}, err
	}
	return out, nil
}

func runVideoChain(opts VideoChainOptions, frames <-chan event.PipelineEvent[media.Frame], payloader rtpio.Payloader, kf *KeyframeRequester, logger *logging.Logger) {
	mtu := opts.MTU
	if mtu <= 0 {
		mtu = 1400
	}
	for ev := range frames {
		if ev.IsEOS() {
			if bye := payloader.Close(); len(bye) > 0 && opts.Sink != nil {
				if err := opts.Sink.WriteRTCP(bye); err != nil {
					logger.Warn("failed writing RTCP BYE", "error", err)
				}
			}
			return
		}
		chunk, err := opts.Encoder.Encode(ev.Data, kf.Consume())
		if err != nil {
			logger.Warn("video encode failed, dropping frame", "pts", ev.Data.PTS, "error", err)
			continue
		}
		for _, pkt := range payloader.Payload(mtu, chunk) {
			if opts.Sink == nil {
				continue
			}
			if err := opts.Sink.WriteRTP(pkt); err != nil {
				logger.Warn("failed writing RTP packet", "error", err)
			}
		}
	}
}

// AudioChainOptions is VideoChainOptions' audio-side counterpart.
type AudioChainOptions struct {
	OutputId   ids.OutputId
	Kind       media.MediaKind
	Encoder    AudioEncoder
	Sink       PacketSink
	MTU        int
	SSRC       uint32
	InitialSeq uint16
}

// AudioChainHandle is the SpawnOutput an audio encode chain publishes.
type AudioChainHandle struct {
	Samples chan<- event.PipelineEvent[media.OutputAudioSamples]
}

// SpawnAudioChain is SpawnVideoChain's audio-side counterpart. Audio
// outputs have no meaningful notion of a forced keyframe, so no
// KeyframeRequester is published; callers needing a uniform handle
// substitute ClosedKeyframeRequester, per spec 4.5.
func SpawnAudioChain(opts AudioChainOptions) (AudioChainHandle, error) {
	logger := logging.Default().With("component", "output.audio", "output_id", opts.OutputId.String())
	sampleCh := make(chan event.PipelineEvent[media.OutputAudioSamples], 5)

	out, err := workerthread.Spawn(func() (AudioChainHandle, func(), error) {
		if opts.Encoder == nil {
			return AudioChainHandle{}, nil, fmt.Errorf("spawn audio chain %s: no encoder supplied", opts.OutputId)
		}
		payloader := rtpio.NewPayloader(opts.Kind, opts.SSRC, opts.InitialSeq)
		handle := AudioChainHandle{Samples: sampleCh}
		run := func() {
			runAudioChain(opts, sampleCh, payloader, logger)
		}
		return handle, run, nil
	})
	if err != nil {
		return AudioChainHandle{}, err
	}
	return out, nil
}

func runAudioChain(opts AudioChainOptions, samples <-chan event.PipelineEvent[media.OutputAudioSamples], payloader rtpio.Payloader, logger *logging.Logger) {
	mtu := opts.MTU
	if mtu <= 0 {
		mtu = 1400
	}
	for ev := range samples {
		if ev.IsEOS() {
			if bye := payloader.Close(); len(bye) > 0 && opts.Sink != nil {
				if err := opts.Sink.WriteRTCP(bye); err != nil {
					logger.Warn("failed writing RTCP BYE", "error", err)
				}
			}
			return
		}
		chunk, err := opts.Encoder.Encode(ev.Data)
		if err != nil {
			logger.Warn("audio encode failed, dropping batch", "start_pts", ev.Data.StartPTS, "error", err)
			continue
		}
		for _, pkt := range payloader.Payload(mtu, chunk) {
			if opts.Sink == nil {
				continue
			}
			if err := opts.Sink.WriteRTP(pkt); err != nil {
				logger.Warn("failed writing RTP packet", "error", err)
			}
		}
	}
}
