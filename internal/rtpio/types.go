// Package rtpio implements the RTP depayloader/payloader pair per
// codec named in spec 4.7: H264, VP8, VP9, Opus, AAC. Depayloaders
// consume RtpInputEvent and emit EncodedInputEvent; payloaders consume
// EncodedChunk and emit MTU-sized RTP packets, tracking SSRC/sequence/
// timestamp and optionally closing with an RTCP BYE. H264 and AAC are
// adapted from the teacher's pkg/rtp/h264.go and pkg/rtp/aac.go; VP8,
// VP9, and Opus reuse pion/rtp's own codec packet types rather than
// hand-rolling reassembly the teacher never needed.
package rtpio

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smelter-run/smelter/pkg/media"
)

// RtpInputEvent is one unit a depayloader consumes: either a received
// packet or a signal that one was lost.
type RtpInputEvent struct {
	Packet     *rtp.Packet
	LostPacket bool
}

// EncodedEventKind tags an EncodedInputEvent's payload.
type EncodedEventKind int

const (
	EventChunk EncodedEventKind = iota
	EventLostData
	EventAuDelimiter
)

// EncodedInputEvent is what a depayloader emits, per spec 4.7.
type EncodedInputEvent struct {
	Kind  EncodedEventKind
	Chunk media.EncodedChunk
}

// Depayloader reassembles codec-specific RTP payloads into encoded
// chunks. A lost packet resets any in-flight partial access unit, per
// spec 4.7.
type Depayloader interface {
	Depayload(ev RtpInputEvent) []EncodedInputEvent
}

// Payloader fragments encoded chunks into MTU-sized RTP packets. SSRC
// and initial sequence number are fixed at construction; the RTP
// timestamp is the chunk's PTS in codec clock units, with no random
// base offset added. Close optionally emits an RTCP BYE.
type Payloader interface {
	Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet
	Close() []rtcp.Packet
}

// sequencer tracks the monotonically increasing RTP sequence number a
// Payloader assigns, wrapping at uint16.
type sequencer struct {
	seq uint16
}

func (s *sequencer) next() uint16 {
	v := s.seq
	s.seq++
	return v
}

// NewDepayloader returns the depayloader for kind, so call sites that
// only know a track's negotiated MediaKind (the WHIP on_track
// callback, an RTP input's codec option) don't need a switch of their
// own.
func NewDepayloader(kind media.MediaKind) Depayloader {
	if kind.IsVideo {
		switch kind.Video {
		case media.VideoCodecVP8:
			return NewVP8Depayloader()
		case media.VideoCodecVP9:
			return NewVP9Depayloader()
		default:
			return NewH264Depayloader()
		}
	}
	if kind.Audio == media.AudioCodecAAC {
		return NewAACDepayloader()
	}
	return NewOpusDepayloader()
}

// NewPayloader returns the payloader for kind with the given SSRC and
// initial sequence number, fixed once at construction per spec 4.7.
func NewPayloader(kind media.MediaKind, ssrc uint32, initialSeq uint16) Payloader {
	if kind.IsVideo {
		switch kind.Video {
		case media.VideoCodecVP8:
			return NewVP8Payloader(ssrc, initialSeq)
		case media.VideoCodecVP9:
			return NewVP9Payloader(ssrc, initialSeq)
		default:
			return NewH264Payloader(ssrc, initialSeq)
		}
	}
	if kind.Audio == media.AudioCodecAAC {
		return NewAACPayloader(ssrc, initialSeq)
	}
	return NewOpusPayloader(ssrc, initialSeq)
}
