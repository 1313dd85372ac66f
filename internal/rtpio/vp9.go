package rtpio

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smelter-run/smelter/pkg/media"
)

// VP9Depayloader mirrors VP8Depayloader, built on pion's VP9Packet.
type VP9Depayloader struct {
	buffer []byte
	clock  uint32
}

// NewVP9Depayloader constructs a VP9Depayloader.
func NewVP9Depayloader() *VP9Depayloader {
	return &VP9Depayloader{clock: media.VideoCodecVP9.ClockRate()}
}

func (d *VP9Depayloader) Depayload(ev RtpInputEvent) []EncodedInputEvent {
	if ev.LostPacket {
		d.buffer = d.buffer[:0]
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	packet := ev.Packet
	if packet == nil {
		return nil
	}

	var vp9 codecs.VP9Packet
	payload, err := vp9.Unmarshal(packet.Payload)
	if err != nil {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	d.buffer = append(d.buffer, payload...)

	if !packet.Marker {
		return nil
	}

	frame := d.buffer
	d.buffer = nil

	keyframe := media.KeyframeUnknown
	if vp9.B {
		keyframe = media.KeyframeYes
	}

	return []EncodedInputEvent{{Kind: EventChunk, Chunk: media.EncodedChunk{
		Data:     frame,
		PTS:      rtpTimestampToPTS(packet.Timestamp, d.clock),
		Keyframe: keyframe,
		Kind:     media.VideoKind(media.VideoCodecVP9),
	}}}
}

// VP9Payloader fragments VP9 frames via pion's VP9Payloader.
type VP9Payloader struct {
	ssrc uint32
	seq  sequencer
	pay  *codecs.VP9Payloader
}

// NewVP9Payloader constructs a VP9Payloader.
func NewVP9Payloader(ssrc uint32, initialSeq uint16) *VP9Payloader {
	return &VP9Payloader{ssrc: ssrc, seq: sequencer{seq: initialSeq}, pay: &codecs.VP9Payloader{}}
}

func (p *VP9Payloader) Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet {
	clock := media.VideoCodecVP9.ClockRate()
	ts := uint32(chunk.PTS.Seconds() * float64(clock))
	payloads := p.pay.Payload(uint16(mtu), chunk.Data)

	packets := make([]*rtp.Packet, len(payloads))
	for i, pl := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    99,
				SequenceNumber: p.seq.next(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: pl,
		}
	}
	return packets
}

func (p *VP9Payloader) Close() []rtcp.Packet {
	return []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{p.ssrc}}}
}
