package rtpio

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"

	"github.com/smelter-run/smelter/pkg/media"
)

func singleNALUPacket(naluType byte, marker bool, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Marker: marker, Timestamp: ts},
		Payload: []byte{naluType, 0xAA, 0xBB},
	}
}

func TestH264DepayloaderSingleNALUEmitsChunk(t *testing.T) {
	d := NewH264Depayloader()
	events := d.Depayload(RtpInputEvent{Packet: singleNALUPacket(naluTypePFrame, true, 1000)})
	assert.Len(t, events, 1)
	assert.Equal(t, EventChunk, events[0].Kind)
	assert.Equal(t, media.KeyframeNo, events[0].Chunk.Keyframe)
}

func TestH264DepayloaderNoEventUntilMarker(t *testing.T) {
	d := NewH264Depayloader()
	events := d.Depayload(RtpInputEvent{Packet: singleNALUPacket(naluTypePFrame, false, 1000)})
	assert.Nil(t, events)
}

func TestH264DepayloaderKeyframePrependsSPSPPS(t *testing.T) {
	d := NewH264Depayloader()
	d.Depayload(RtpInputEvent{Packet: singleNALUPacket(naluTypeSPS, true, 0)})
	d.Depayload(RtpInputEvent{Packet: singleNALUPacket(naluTypePPS, true, 0)})
	events := d.Depayload(RtpInputEvent{Packet: singleNALUPacket(naluTypeIFrame, true, 3000)})

	assert.Len(t, events, 1)
	assert.Equal(t, media.KeyframeYes, events[0].Chunk.Keyframe)
	// SPS + PPS + IDR, each with a 4-byte length prefix.
	assert.Equal(t, 3*4+3*3, len(events[0].Chunk.Data))
}

func TestH264DepayloaderFUAReassembly(t *testing.T) {
	d := NewH264Depayloader()
	fuIndicator := byte(0x60) // NRI bits set, type overridden by FU header
	start := &rtp.Packet{Payload: []byte{fuIndicator, 0x80 | naluTypePFrame, 0x01, 0x02}}
	end := &rtp.Packet{Header: rtp.Header{Marker: true}, Payload: []byte{fuIndicator, 0x40 | naluTypePFrame, 0x03}}

	assert.Nil(t, d.Depayload(RtpInputEvent{Packet: start}))
	events := d.Depayload(RtpInputEvent{Packet: end})
	assert.Len(t, events, 1)
	assert.Equal(t, EventChunk, events[0].Kind)
}

func TestH264DepayloaderLostPacketClearsBuffer(t *testing.T) {
	d := NewH264Depayloader()
	d.buffer = append(d.buffer, 1, 2, 3)
	events := d.Depayload(RtpInputEvent{LostPacket: true})
	assert.Len(t, events, 1)
	assert.Equal(t, EventLostData, events[0].Kind)
	assert.Empty(t, d.buffer)
}

func TestSequencerIncrementsAndWraps(t *testing.T) {
	s := sequencer{seq: 65535}
	assert.Equal(t, uint16(65535), s.next())
	assert.Equal(t, uint16(0), s.next())
}
