package rtpio

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smelter-run/smelter/pkg/media"
)

// VP8Depayloader reassembles VP8 RTP payloads using pion's own
// VP8Packet parser; the teacher never carried VP8, so this is grounded
// directly on the pion/rtp dependency already wired for H264/RTCP
// elsewhere in the pack rather than on any teacher file.
type VP8Depayloader struct {
	buffer []byte
	clock  uint32
}

// NewVP8Depayloader constructs a VP8Depayloader.
func NewVP8Depayloader() *VP8Depayloader {
	return &VP8Depayloader{clock: media.VideoCodecVP8.ClockRate()}
}

func (d *VP8Depayloader) Depayload(ev RtpInputEvent) []EncodedInputEvent {
	if ev.LostPacket {
		d.buffer = d.buffer[:0]
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	packet := ev.Packet
	if packet == nil {
		return nil
	}

	var vp8 codecs.VP8Packet
	payload, err := vp8.Unmarshal(packet.Payload)
	if err != nil {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	if vp8.S == 1 && len(d.buffer) == 0 {
		d.buffer = d.buffer[:0]
	}
	d.buffer = append(d.buffer, payload...)

	if !packet.Marker {
		return nil
	}

	frame := d.buffer
	d.buffer = nil

	keyframe := media.KeyframeNo
	if len(frame) > 0 && frame[0]&0x01 == 0 {
		keyframe = media.KeyframeYes
	}

	return []EncodedInputEvent{{Kind: EventChunk, Chunk: media.EncodedChunk{
		Data:     frame,
		PTS:      rtpTimestampToPTS(packet.Timestamp, d.clock),
		Keyframe: keyframe,
		Kind:     media.VideoKind(media.VideoCodecVP8),
	}}}
}

// VP8Payloader fragments VP8 frames via pion's VP8Payloader.
type VP8Payloader struct {
	ssrc uint32
	seq  sequencer
	pay  *codecs.VP8Payloader
}

// NewVP8Payloader constructs a VP8Payloader.
func NewVP8Payloader(ssrc uint32, initialSeq uint16) *VP8Payloader {
	return &VP8Payloader{ssrc: ssrc, seq: sequencer{seq: initialSeq}, pay: &codecs.VP8Payloader{}}
}

func (p *VP8Payloader) Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet {
	clock := media.VideoCodecVP8.ClockRate()
	ts := uint32(chunk.PTS.Seconds() * float64(clock))
	payloads := p.pay.Payload(uint16(mtu), chunk.Data)

	packets := make([]*rtp.Packet, len(payloads))
	for i, pl := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    98,
				SequenceNumber: p.seq.next(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: pl,
		}
	}
	return packets
}

func (p *VP8Payloader) Close() []rtcp.Packet {
	return []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{p.ssrc}}}
}
