package mixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/smelter-run/smelter/pkg/media"
)

func TestApplyStrategySumClip(t *testing.T) {
	left := []float64{1.5, -1.5, 0.2}
	right := []float64{0.3, 2.0, -2.0}
	applyStrategy(left, right, SumClip)
	assert.Equal(t, []float64{1, -1, 0.2}, left)
	assert.Equal(t, []float64{0.3, 1, -1}, right)
}

func TestApplyStrategySumScaleScalesWholeBatchAcrossChannels(t *testing.T) {
	// Peak (2.0) is on the left channel; right must be scaled by the
	// same factor even though no right-channel sample exceeds range.
	left := []float64{2.0, -1.0, 0.5}
	right := []float64{0.5, -0.25, 0.1}
	applyStrategy(left, right, SumScale)
	assert.InDelta(t, 1.0, left[0], 1e-9)
	assert.InDelta(t, -0.5, left[1], 1e-9)
	assert.InDelta(t, 0.25, left[2], 1e-9)
	assert.InDelta(t, 0.25, right[0], 1e-9)
	assert.InDelta(t, -0.125, right[1], 1e-9)
	assert.InDelta(t, 0.05, right[2], 1e-9)
}

func TestApplyStrategySumScaleNoopWhenInRange(t *testing.T) {
	left := []float64{0.5, -0.3}
	right := []float64{0.2, -0.1}
	applyStrategy(left, right, SumScale)
	assert.Equal(t, []float64{0.5, -0.3}, left)
	assert.Equal(t, []float64{0.2, -0.1}, right)
}

func TestDownmixToMonoAverages(t *testing.T) {
	stereo := media.AudioSamples{Stereo: true, Left: []float64{1, -1}, Right: []float64{0, 1}}
	mono := downmixToMono(stereo)
	assert.False(t, mono.Stereo)
	assert.Equal(t, []float64{0.5, 0}, mono.Mono)
}

func TestMixWithNoInputsReturnsSilence(t *testing.T) {
	m := New(Config{Channels: 2, Strategy: SumClip}, 48000, nil)
	out := m.Mix(4)
	assert.Len(t, out.Samples.Left, 4)
	for _, v := range out.Samples.Left {
		assert.Equal(t, float64(0), v)
	}
}
