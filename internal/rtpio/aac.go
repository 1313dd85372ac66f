package rtpio

import (
	"encoding/binary"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/smelter-run/smelter/pkg/media"
)

// aacClockRate is AAC-HBR's RTP clock rate as used throughout this
// core; real deployments vary by sample rate, but 48kHz is the common
// case the teacher's own AACClockRate constant assumed.
const aacClockRate = 48000

// AACDepayloader parses RFC 3640 AU-header-delimited access units out
// of AAC-HBR RTP payloads. Adapted from the teacher's
// pkg/rtp/aac.go AACProcessor, generalized to emit one
// EncodedInputEvent per access unit instead of invoking a callback.
type AACDepayloader struct{}

// NewAACDepayloader constructs an AACDepayloader.
func NewAACDepayloader() *AACDepayloader { return &AACDepayloader{} }

func (d *AACDepayloader) Depayload(ev RtpInputEvent) []EncodedInputEvent {
	if ev.LostPacket {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	packet := ev.Packet
	if packet == nil || len(packet.Payload) < 2 {
		return nil
	}

	payload := packet.Payload
	auHeadersLength := binary.BigEndian.Uint16(payload[:2])
	auHeadersLengthBytes := int((auHeadersLength + 7) / 8)
	if len(payload) < 2+auHeadersLengthBytes {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}

	auHeaders := payload[2 : 2+auHeadersLengthBytes]
	auData := payload[2+auHeadersLengthBytes:]

	var events []EncodedInputEvent
	offset := 0
	for len(auHeaders) >= 2 {
		auSize := int(binary.BigEndian.Uint16(auHeaders[:2]) >> 3)
		auHeaders = auHeaders[2:]
		if offset+auSize > len(auData) {
			break
		}
		frame := auData[offset : offset+auSize]
		offset += auSize
		if len(frame) == 0 {
			continue
		}
		events = append(events, EncodedInputEvent{Kind: EventChunk, Chunk: media.EncodedChunk{
			Data:     append([]byte(nil), frame...),
			PTS:      rtpTimestampToPTS(packet.Timestamp, aacClockRate),
			Keyframe: media.KeyframeNotApplicable,
			Kind:     media.AudioKind(media.AudioCodecAAC),
		}})
	}
	return events
}

// AACPayloader packs one access unit per RTP packet with a single
// RFC 3640 AU-header, the common AAC-HBR shape.
type AACPayloader struct {
	ssrc uint32
	seq  sequencer
}

// NewAACPayloader constructs an AACPayloader.
func NewAACPayloader(ssrc uint32, initialSeq uint16) *AACPayloader {
	return &AACPayloader{ssrc: ssrc, seq: sequencer{seq: initialSeq}}
}

func (p *AACPayloader) Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet {
	header := make([]byte, 4)
	binary.BigEndian.PutUint16(header[0:2], 16) // AU-headers-length in bits: one 16-bit header
	binary.BigEndian.PutUint16(header[2:4], uint16(len(chunk.Data))<<3)

	payload := append(header, chunk.Data...)
	ts := uint32(chunk.PTS.Seconds() * aacClockRate)

	return []*rtp.Packet{{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    97,
			SequenceNumber: p.seq.next(),
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}}
}

func (p *AACPayloader) Close() []rtcp.Packet {
	return []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{p.ssrc}}}
}
