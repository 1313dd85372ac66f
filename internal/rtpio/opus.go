package rtpio

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smelter-run/smelter/pkg/media"
)

// OpusDepayloader emits one EncodedChunk per packet: Opus has no
// fragmentation across RTP packets, so depayloading is a straight
// unwrap via pion's OpusPacket.
type OpusDepayloader struct{}

// NewOpusDepayloader constructs an OpusDepayloader.
func NewOpusDepayloader() *OpusDepayloader { return &OpusDepayloader{} }

func (d *OpusDepayloader) Depayload(ev RtpInputEvent) []EncodedInputEvent {
	if ev.LostPacket {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	packet := ev.Packet
	if packet == nil {
		return nil
	}

	var opus codecs.OpusPacket
	payload, err := opus.Unmarshal(packet.Payload)
	if err != nil {
		return []EncodedInputEvent{{Kind: EventLostData}}
	}

	return []EncodedInputEvent{{Kind: EventChunk, Chunk: media.EncodedChunk{
		Data:     append([]byte(nil), payload...),
		PTS:      rtpTimestampToPTS(packet.Timestamp, media.AudioCodecOpus.ClockRate(0)),
		Keyframe: media.KeyframeNotApplicable,
		Kind:     media.AudioKind(media.AudioCodecOpus),
	}}}
}

// OpusPayloader packs each Opus frame into its own RTP packet via
// pion's OpusPayloader.
type OpusPayloader struct {
	ssrc uint32
	seq  sequencer
	pay  *codecs.OpusPayloader
}

// NewOpusPayloader constructs an OpusPayloader.
func NewOpusPayloader(ssrc uint32, initialSeq uint16) *OpusPayloader {
	return &OpusPayloader{ssrc: ssrc, seq: sequencer{seq: initialSeq}, pay: &codecs.OpusPayloader{}}
}

func (p *OpusPayloader) Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet {
	ts := uint32(chunk.PTS.Seconds() * float64(media.AudioCodecOpus.ClockRate(0)))
	payloads := p.pay.Payload(uint16(mtu), chunk.Data)

	packets := make([]*rtp.Packet, len(payloads))
	for i, pl := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    111,
				SequenceNumber: p.seq.next(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: pl,
		}
	}
	return packets
}

func (p *OpusPayloader) Close() []rtcp.Packet {
	return []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{p.ssrc}}}
}
