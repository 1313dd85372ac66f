// Package media holds the wire-agnostic data model shared by every
// pipeline stage: timestamps, encoded chunks, decoded frames and audio
// samples, and the codec/kind tags attached to them.
package media

import "time"

// Framerate is a rational output frame rate; the nominal frame
// interval is Den/Num seconds.
type Framerate struct {
	Num int
	Den int
}

// Interval returns the nominal duration between output frames.
func (f Framerate) Interval() time.Duration {
	if f.Num <= 0 {
		return 0
	}
	return time.Duration(float64(f.Den) / float64(f.Num) * float64(time.Second))
}

// PTSAt returns the target presentation timestamp of the k-th tick.
func (f Framerate) PTSAt(k int64) time.Duration {
	return time.Duration(k) * f.Interval()
}

// Resolution is a frame's pixel dimensions.
type Resolution struct {
	Width  int
	Height int
}

// MinResolution is the pragmatic non-zero fallback frame size used
// when an input has produced nothing yet at its first expected tick.
var MinResolution = Resolution{Width: 2, Height: 2}

// VideoCodec enumerates the video codecs the core understands.
type VideoCodec int

const (
	VideoCodecH264 VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "h264"
	case VideoCodecVP8:
		return "vp8"
	case VideoCodecVP9:
		return "vp9"
	default:
		return "unknown"
	}
}

// ClockRate returns the RTP clock rate associated with the codec.
func (c VideoCodec) ClockRate() uint32 { return 90000 }

// AudioCodec enumerates the audio codecs the core understands.
type AudioCodec int

const (
	AudioCodecOpus AudioCodec = iota
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "opus"
	case AudioCodecAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// ClockRate returns the RTP clock rate associated with the codec.
func (c AudioCodec) ClockRate(sampleRate uint32) uint32 {
	if c == AudioCodecOpus {
		return 48000
	}
	return sampleRate
}

// MediaKind tags a chunk or stream as carrying video or audio, along
// with its codec. Immutable once a chunk is constructed.
type MediaKind struct {
	IsVideo bool
	Video   VideoCodec
	Audio   AudioCodec
}

func VideoKind(c VideoCodec) MediaKind { return MediaKind{IsVideo: true, Video: c} }
func AudioKind(c AudioCodec) MediaKind { return MediaKind{IsVideo: false, Audio: c} }

func (k MediaKind) String() string {
	if k.IsVideo {
		return "video/" + k.Video.String()
	}
	return "audio/" + k.Audio.String()
}

// Keyframe is a tri-state: a codec without keyframes (e.g. raw PCM)
// can't answer Yes/No, and a payloader that hasn't inspected the
// payload yet reports Unknown rather than guessing.
type Keyframe int

const (
	KeyframeUnknown Keyframe = iota
	KeyframeYes
	KeyframeNo
	KeyframeNotApplicable
)

// EncodedChunk is one unit of encoded media: a NAL access unit, a VP8
// frame, an Opus packet, etc.
type EncodedChunk struct {
	Data      []byte
	PTS       time.Duration
	DTS       *time.Duration
	Keyframe  Keyframe
	Kind      MediaKind
}

// FrameDataKind is the closed set of frame storage representations.
type FrameDataKind int

const (
	FrameDataPlanarYUV420 FrameDataKind = iota
	FrameDataNV12Texture
	FrameDataRGBA8Texture
	FrameDataPlanarYUV420Textures
)

// FrameData is a tagged union over the possible frame storage
// backings. Exactly one field is meaningful per Kind.
type FrameData struct {
	Kind FrameDataKind

	// PlanarYUV420: CPU-side bytes, one slice per plane (Y, U, V).
	YUVPlanes [3][]byte
	YUVStride [3]int

	// GPU-backed variants carry an opaque handle; the real texture
	// object lives behind the GraphicsContext abstraction (out of
	// core scope; the software renderer in internal/render stores its
	// render.RGBA canvas here).
	Texture any
}

// Frame is one decoded/rendered video frame.
type Frame struct {
	Data       FrameData
	PTS        time.Duration
	Resolution Resolution
}

// AudioSamples is tagged mono/stereo sample data at float64 precision
// in [-1, 1].
type AudioSamples struct {
	Stereo bool
	Mono   []float64
	Left   []float64
	Right  []float64
}

// Len returns the number of samples (per channel).
func (s AudioSamples) Len() int {
	if s.Stereo {
		return len(s.Left)
	}
	return len(s.Mono)
}

// ToStereo returns a stereo view of the samples, duplicating mono
// channels.
func (s AudioSamples) ToStereo() (left, right []float64) {
	if s.Stereo {
		return s.Left, s.Right
	}
	return s.Mono, s.Mono
}

// InputAudioSamples is a batch of samples from an input, time-bounded.
type InputAudioSamples struct {
	Samples    AudioSamples
	StartPTS   time.Duration
	EndPTS     time.Duration
	SampleRate uint32
}

// OutputAudioSamples is a batch of samples produced for an output; its
// length is Samples.Len() samples at the output's sample rate.
type OutputAudioSamples struct {
	Samples  AudioSamples
	StartPTS time.Duration
}
