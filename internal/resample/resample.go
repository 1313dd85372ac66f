// Package resample implements the dynamic audio resampler described
// in spec 4.2/4.3: linear interpolation onto a target sample rate,
// re-initialised whenever the input sample rate or channel layout
// changes, with any fractional leftover carried into the next batch
// instead of being dropped. Grounded on the teacher's
// pkg/rtp/aac.go (RFC 3640 AU-header bookkeeping is the teacher's
// closest analog to per-batch audio state machinery, here generalized
// from parsing raw wire bytes to resampling decoded samples).
package resample

import (
	"github.com/smelter-run/smelter/pkg/media"
)

// layout identifies the (sample rate, stereo-ness) pair a Resampler is
// currently configured for.
type layout struct {
	sampleRate uint32
	stereo     bool
}

// Resampler converts variable-rate input audio batches to a fixed
// target sample rate, maintaining continuity across re-initialisation
// and carrying fractional output residue between calls.
type Resampler struct {
	targetRate uint32

	current layout
	have    bool

	// pending holds not-yet-consumed input samples at the current
	// layout's rate, plus the PTS of their first sample.
	pendingLeft  []float64
	pendingRight []float64
	pendingStart int64 // nanoseconds

	// outputPos is the fractional read position, in input-sample
	// units, left over from the previous Drain — the "residue" the
	// spec requires carrying forward so every emitted batch is an
	// integer number of target-rate samples.
	outputPos float64
}

// New constructs a Resampler targeting targetRate.
func New(targetRate uint32) *Resampler {
	return &Resampler{targetRate: targetRate}
}

// Push appends one input batch, re-initialising internal state if its
// sample rate or channel layout differs from the previous batch. The
// new layout's continuity point is this batch's own start PTS, per
// spec 4.2's "the new resampler's initial PTS is taken from the first
// sample after the change".
func (r *Resampler) Push(batch media.InputAudioSamples) {
	lay := layout{sampleRate: batch.SampleRate, stereo: batch.Samples.Stereo}
	if !r.have || lay != r.current {
		r.current = lay
		r.have = true
		r.pendingLeft = nil
		r.pendingRight = nil
		r.outputPos = 0
		r.pendingStart = int64(batch.StartPTS)
	}

	left, right := batch.Samples.ToStereo()
	r.pendingLeft = append(r.pendingLeft, left...)
	if batch.Samples.Stereo {
		r.pendingRight = append(r.pendingRight, right...)
	} else {
		r.pendingRight = append(r.pendingRight, left...)
	}
}

// Drain produces exactly count stereo samples at the target rate,
// starting from the current read position, consuming as much pending
// input as that requires and leaving the fractional remainder for the
// next call. Returns fewer than count samples only if pending input
// runs out; callers pad with silence in that case.
func (r *Resampler) Drain(count int) (left, right []float64) {
	if !r.have || count <= 0 {
		return nil, nil
	}

	ratio := float64(r.current.sampleRate) / float64(r.targetRate)
	left = make([]float64, 0, count)
	right = make([]float64, 0, count)

drain:
	for i := 0; i < count; i++ {
		srcPos := r.outputPos + float64(i)*ratio
		i0 := int(srcPos)
		frac := srcPos - float64(i0)
		switch {
		case i0+1 < len(r.pendingLeft):
			left = append(left, lerp(r.pendingLeft[i0], r.pendingLeft[i0+1], frac))
			right = append(right, lerp(r.pendingRight[i0], r.pendingRight[i0+1], frac))
		case i0 < len(r.pendingLeft) && frac == 0:
			// srcPos lands exactly on the last buffered sample: no next
			// sample to interpolate toward, but frac == 0 means none is
			// needed — emit it directly instead of treating this as
			// underrun, so a batch whose end aligns exactly doesn't
			// silently come up one sample short.
			left = append(left, r.pendingLeft[i0])
			right = append(right, r.pendingRight[i0])
		default:
			break drain // pending input exhausted
		}
	}

	consumed := len(left)
	r.outputPos += float64(consumed) * ratio
	whole := int(r.outputPos)
	if whole > len(r.pendingLeft) {
		whole = len(r.pendingLeft)
	}
	if whole > 0 {
		r.pendingLeft = r.pendingLeft[whole:]
		r.pendingRight = r.pendingRight[whole:]
		r.outputPos -= float64(whole)
	}

	return left, right
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
