package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/smelter-run/smelter/pkg/media"
)

func TestDrainBeforeAnyPushReturnsNothing(t *testing.T) {
	r := New(48000)
	left, right := r.Drain(10)
	assert.Nil(t, left)
	assert.Nil(t, right)
}

func TestDrainIdentityRateReturnsSameSamples(t *testing.T) {
	r := New(48000)
	r.Push(media.InputAudioSamples{
		Samples:    media.AudioSamples{Mono: []float64{0, 0.25, 0.5, 0.75, 1}},
		SampleRate: 48000,
	})
	left, right := r.Drain(4)
	assert.Len(t, left, 4)
	assert.Len(t, right, 4)
	assert.InDelta(t, 0, left[0], 1e-9)
	assert.InDelta(t, 0.25, left[1], 1e-9)
}

func TestDrainPartialWhenInputExhausted(t *testing.T) {
	r := New(48000)
	r.Push(media.InputAudioSamples{
		Samples:    media.AudioSamples{Mono: []float64{0, 1}},
		SampleRate: 48000,
	})
	left, _ := r.Drain(10)
	assert.Less(t, len(left), 10)
}

func TestPushReinitializesOnRateChange(t *testing.T) {
	r := New(48000)
	r.Push(media.InputAudioSamples{
		Samples:    media.AudioSamples{Mono: []float64{0, 0.5, 1}},
		SampleRate: 48000,
		StartPTS:   0,
	})
	r.Drain(2)

	r.Push(media.InputAudioSamples{
		Samples:    media.AudioSamples{Mono: []float64{1, 1}},
		SampleRate: 44100,
		StartPTS:   1000,
	})
	assert.Equal(t, uint32(44100), r.current.sampleRate)
	assert.Equal(t, float64(0), r.outputPos, "layout change resets residue")
}

func TestPushDuplicatesMonoToBothChannels(t *testing.T) {
	r := New(48000)
	r.Push(media.InputAudioSamples{
		Samples:    media.AudioSamples{Mono: []float64{0.1, 0.2}},
		SampleRate: 48000,
	})
	assert.Equal(t, r.pendingLeft, r.pendingRight)
}
