package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

func TestBestMatchExactPreferred(t *testing.T) {
	frames := []media.Frame{
		{PTS: 90 * time.Millisecond},
		{PTS: 100 * time.Millisecond},
		{PTS: 110 * time.Millisecond},
	}
	best, idx, ok := bestMatch(frames, 100*time.Millisecond, 0)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 100*time.Millisecond, best.PTS)
}

func TestBestMatchTieBreaksLater(t *testing.T) {
	frames := []media.Frame{
		{PTS: 90 * time.Millisecond},
		{PTS: 110 * time.Millisecond},
	}
	best, _, ok := bestMatch(frames, 100*time.Millisecond, 0)
	assert.True(t, ok)
	assert.Equal(t, 110*time.Millisecond, best.PTS)
}

func TestBestMatchEmptyBuffer(t *testing.T) {
	_, _, ok := bestMatch(nil, 100*time.Millisecond, 0)
	assert.False(t, ok)
}

func TestBestMatchHonorsOffset(t *testing.T) {
	frames := []media.Frame{{PTS: 0}}
	best, _, ok := bestMatch(frames, 50*time.Millisecond, 50*time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), best.PTS)
}

func TestDropOlderThanKeepsSelectedOnward(t *testing.T) {
	frames := []media.Frame{
		{PTS: 0}, {PTS: 10}, {PTS: 20}, {PTS: 30},
	}
	kept := dropOlderThan(frames, 2)
	assert.Equal(t, []media.Frame{{PTS: 20}, {PTS: 30}}, kept)
}

func TestDropOlderThanNoopAtZero(t *testing.T) {
	frames := []media.Frame{{PTS: 0}, {PTS: 10}}
	kept := dropOlderThan(frames, 0)
	assert.Equal(t, frames, kept)
}

func TestSelectFrameFallsBackToTransparentWhenEmpty(t *testing.T) {
	q := New(Options{
		OutputFramerate:       media.Framerate{Num: 30, Den: 1},
		StreamFallbackTimeout: time.Millisecond,
	}, nil)
	e := &inputEntry{opts: InputOptions{Required: false}}
	f := q.selectFrame(e, 0)
	assert.Equal(t, media.MinResolution, f.Resolution)
}

func TestSelectFrameRejectsMatchOlderThanFallbackTimeout(t *testing.T) {
	q := New(Options{
		OutputFramerate:       media.Framerate{Num: 30, Den: 1},
		StreamFallbackTimeout: 50 * time.Millisecond,
	}, nil)
	e := &inputEntry{
		opts:   InputOptions{Required: false},
		frames: []media.Frame{{PTS: 0, Resolution: media.Resolution{Width: 4, Height: 4}}},
	}
	f := q.selectFrame(e, 200*time.Millisecond)
	assert.Equal(t, media.MinResolution, f.Resolution, "a frame 200ms stale against a 50ms fallback timeout must not be reused")
}

func TestSelectFrameReusesMatchWithinFallbackTimeout(t *testing.T) {
	q := New(Options{
		OutputFramerate:       media.Framerate{Num: 30, Den: 1},
		StreamFallbackTimeout: 50 * time.Millisecond,
	}, nil)
	e := &inputEntry{
		opts:   InputOptions{Required: false},
		frames: []media.Frame{{PTS: 0, Resolution: media.Resolution{Width: 4, Height: 4}}},
	}
	f := q.selectFrame(e, 30*time.Millisecond)
	assert.Equal(t, media.Resolution{Width: 4, Height: 4}, f.Resolution, "a frame within the fallback window should still be reused")
}

func TestAddAndRemoveInput(t *testing.T) {
	q := New(Options{OutputFramerate: media.Framerate{Num: 30, Den: 1}}, nil)
	id := ids.InputId("camera-1")
	q.AddInput(id, QueueDataReceiver{}, InputOptions{})
	assert.Len(t, q.inputs, 1)
	q.RemoveInput(id)
	assert.Len(t, q.inputs, 0)
}

func TestGatherSamplesPartitionsByWindow(t *testing.T) {
	q := New(Options{OutputFramerate: media.Framerate{Num: 30, Den: 1}}, nil)
	id := ids.InputId("mic-1")
	q.AddInput(id, QueueDataReceiver{}, InputOptions{})
	e := q.inputs[id]
	e.audio = []media.InputAudioSamples{
		{StartPTS: 0, EndPTS: 10 * time.Millisecond},
		{StartPTS: 10 * time.Millisecond, EndPTS: 40 * time.Millisecond},
	}

	ss := q.gatherSamples(0, 20*time.Millisecond)
	assert.Len(t, ss.Samples[id], 2)
	assert.Empty(t, q.inputs[id].audio, "a batch already consumed into this tick's window must not be reprocessed next tick")
}
