package rtpio

import (
	"encoding/binary"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/smelter-run/smelter/pkg/media"
)

const (
	naluTypePFrame = 1
	naluTypeIFrame = 5
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeSTAPA  = 24
	naluTypeFUA    = 28
)

// H264Depayloader reassembles FU-A/STAP-A RTP payloads into
// length-prefixed (AVC) access units, caching SPS/PPS and prepending
// them before IDR frames. Adapted from the teacher's
// pkg/rtp/h264.go H264Processor: same reassembly shape, but emitting
// media.EncodedChunk values instead of invoking an OnFrame callback.
type H264Depayloader struct {
	buffer []byte
	sps    []byte
	pps    []byte
	clock  uint32
}

// NewH264Depayloader constructs an H264Depayloader.
func NewH264Depayloader() *H264Depayloader {
	return &H264Depayloader{buffer: make([]byte, 0, 64*1024), clock: media.VideoCodecH264.ClockRate()}
}

func (d *H264Depayloader) Depayload(ev RtpInputEvent) []EncodedInputEvent {
	if ev.LostPacket {
		d.buffer = d.buffer[:0]
		return []EncodedInputEvent{{Kind: EventLostData}}
	}
	packet := ev.Packet
	if packet == nil || len(packet.Payload) == 0 {
		return nil
	}

	naluType := packet.Payload[0] & 0x1F
	switch naluType {
	case naluTypeFUA:
		return d.processFUA(packet)
	case naluTypeSTAPA:
		return d.processSTAPA(packet)
	default:
		return d.emitNALU(packet.Payload, naluType, packet.Marker, packet.Timestamp)
	}
}

func (d *H264Depayloader) processFUA(packet *rtp.Packet) []EncodedInputEvent {
	if len(packet.Payload) < 2 {
		return nil
	}
	fuIndicator := packet.Payload[0]
	fuHeader := packet.Payload[1]
	payload := packet.Payload[2:]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1F

	if start {
		d.buffer = d.buffer[:0]
		d.buffer = append(d.buffer, (fuIndicator&0xE0)|naluType)
	}
	d.buffer = append(d.buffer, payload...)

	if end {
		return d.emitNALU(d.buffer, naluType, packet.Marker, packet.Timestamp)
	}
	return nil
}

func (d *H264Depayloader) processSTAPA(packet *rtp.Packet) []EncodedInputEvent {
	payload := packet.Payload[1:]
	au := make([]byte, 0, len(payload)*2)
	isKeyframe := false

	for len(payload) > 2 {
		size := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]
		if len(payload) < int(size) {
			return []EncodedInputEvent{{Kind: EventLostData}}
		}
		nalu := payload[:size]
		payload = payload[size:]
		au = appendLengthPrefixed(au, nalu)

		switch nalu[0] & 0x1F {
		case naluTypeSPS:
			d.sps = append(d.sps[:0], nalu...)
		case naluTypePPS:
			d.pps = append(d.pps[:0], nalu...)
		case naluTypeIFrame:
			isKeyframe = true
		}
	}
	if len(au) == 0 {
		return nil
	}
	kf := media.KeyframeNo
	if isKeyframe {
		kf = media.KeyframeYes
	}
	return []EncodedInputEvent{{Kind: EventChunk, Chunk: media.EncodedChunk{
		Data:     au,
		PTS:      rtpTimestampToPTS(packet.Timestamp, d.clock),
		Keyframe: kf,
		Kind:     media.VideoKind(media.VideoCodecH264),
	}}}
}

func (d *H264Depayloader) emitNALU(nalu []byte, naluType uint8, marker bool, rtpTS uint32) []EncodedInputEvent {
	switch naluType {
	case naluTypeSPS:
		d.sps = append(d.sps[:0], nalu...)
	case naluTypePPS:
		d.pps = append(d.pps[:0], nalu...)
	}

	if !marker {
		return nil
	}

	isKeyframe := naluType == naluTypeIFrame
	var au []byte
	if isKeyframe && len(d.sps) > 0 && len(d.pps) > 0 {
		au = appendLengthPrefixed(au, d.sps)
		au = appendLengthPrefixed(au, d.pps)
	}
	au = appendLengthPrefixed(au, nalu)

	kf := media.KeyframeNo
	if isKeyframe {
		kf = media.KeyframeYes
	}
	return []EncodedInputEvent{{Kind: EventChunk, Chunk: media.EncodedChunk{
		Data:     au,
		PTS:      rtpTimestampToPTS(rtpTS, d.clock),
		Keyframe: kf,
		Kind:     media.VideoKind(media.VideoCodecH264),
	}}}
}

func appendLengthPrefixed(dst, nalu []byte) []byte {
	length := uint32(len(nalu))
	dst = append(dst, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	return append(dst, nalu...)
}

func rtpTimestampToPTS(rtpTS, clockRate uint32) time.Duration {
	if clockRate == 0 {
		return 0
	}
	return time.Duration(rtpTS) * time.Second / time.Duration(clockRate)
}

// H264Payloader fragments AVC access units into FU-A/STAP-A RTP
// packets using pion's own H264 payloader, assigning a fixed SSRC and
// incrementing sequence numbers per packet.
type H264Payloader struct {
	ssrc uint32
	seq  sequencer
	pay  *codecs.H264Payloader
}

// NewH264Payloader constructs an H264Payloader with a fixed SSRC and
// initial sequence number.
func NewH264Payloader(ssrc uint32, initialSeq uint16) *H264Payloader {
	return &H264Payloader{ssrc: ssrc, seq: sequencer{seq: initialSeq}, pay: &codecs.H264Payloader{}}
}

func (p *H264Payloader) Payload(mtu int, chunk media.EncodedChunk) []*rtp.Packet {
	clock := media.VideoCodecH264.ClockRate()
	ts := uint32(chunk.PTS.Seconds() * float64(clock))
	payloads := p.pay.Payload(uint16(mtu), chunk.Data)

	packets := make([]*rtp.Packet, len(payloads))
	for i, pl := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    96,
				SequenceNumber: p.seq.next(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: pl,
		}
	}
	return packets
}

func (p *H264Payloader) Close() []rtcp.Packet {
	return []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{p.ssrc}}}
}
