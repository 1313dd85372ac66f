// Package mixer combines per-input audio batches into per-output
// batches per a declarative mixer configuration, per spec 4.3. Each
// input owns a dedicated goroutine holding its own resample.Resampler
// (spec's "1 thread per audio mixer input"); the mixer itself only
// requests windows from those goroutines and combines the results.
// Grounded on the teacher's pkg/bridge/pacer.go single-owner-per-
// stream thread shape, generalized from one relay's outbound pacer to
// N independently-resampling inputs feeding one output.
package mixer

import (
	"time"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/resample"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

// Strategy is the closed set of ways a mixer combines overlapping
// samples that exceed [-1, 1].
type Strategy int

const (
	// SumClip clamps out-of-range summed samples independently.
	SumClip Strategy = iota
	// SumScale scales the whole batch down uniformly so its peak
	// sample lands exactly at the range boundary.
	SumScale
)

// InputConfig is one input's contribution to an output's mix.
type InputConfig struct {
	InputId ids.InputId
	Volume  float64 // [0, 2]
}

// Config declares how one output's audio is assembled.
type Config struct {
	Inputs   []InputConfig
	Strategy Strategy
	Channels int // 1 (mono) or 2 (stereo)
}

// inputWaitTimeout is the bounded wait a mixer-input thread gets
// before the mixer substitutes silence for it, per spec 4.3/5.
const inputWaitTimeout = 100 * time.Millisecond

// mixerInput owns one input's resampler and answers windowed sample
// requests from the mixer goroutine. Runs on its own goroutine; all
// state below is only ever touched from that goroutine, reached via
// requests channel, matching the single-thread-ownership rule in
// spec 5 ("Per-stream state ownership").
type mixerInput struct {
	id         ids.InputId
	resampler  *resample.Resampler
	logger     *logging.Logger
	pushCh     chan media.InputAudioSamples
	requestCh  chan windowRequest
}

type windowRequest struct {
	count    int
	respLeft chan []float64
	respRight chan []float64
}

func newMixerInput(id ids.InputId, targetRate uint32, logger *logging.Logger) *mixerInput {
	mi := &mixerInput{
		id:        id,
		resampler: resample.New(targetRate),
		logger:    logger,
		pushCh:    make(chan media.InputAudioSamples, 32),
		requestCh: make(chan windowRequest, 4),
	}
	go mi.run()
	return mi
}

func (mi *mixerInput) run() {
	for {
		select {
		case batch, ok := <-mi.pushCh:
			if !ok {
				return
			}
			mi.resampler.Push(batch)
		case req := <-mi.requestCh:
			left, right := mi.resampler.Drain(req.count)
			req.respLeft <- left
			req.respRight <- right
		}
	}
}

// push feeds one more batch into this input's resampler queue,
// non-blocking so the queue's dispatch never stalls on a slow mixer
// input.
func (mi *mixerInput) push(batch media.InputAudioSamples) {
	select {
	case mi.pushCh <- batch:
	default:
		mi.logger.Warn("mixer input backlog full, dropping batch", "input_id", mi.id.String())
	}
}

// window requests count samples from this input, waiting up to
// inputWaitTimeout. On timeout it logs and returns ok=false, so the
// caller substitutes silence, per spec 4.3's failure semantics.
func (mi *mixerInput) window(count int) (left, right []float64, ok bool) {
	req := windowRequest{count: count, respLeft: make(chan []float64, 1), respRight: make(chan []float64, 1)}
	select {
	case mi.requestCh <- req:
	case <-time.After(inputWaitTimeout):
		mi.logger.Warn("mixer input request queue full", "input_id", mi.id.String())
		return nil, nil, false
	}

	select {
	case left = <-req.respLeft:
		right = <-req.respRight
		return left, right, true
	case <-time.After(inputWaitTimeout):
		mi.logger.Warn("mixer input timed out, substituting silence", "input_id", mi.id.String())
		return nil, nil, false
	}
}

// Mixer assembles one output's audio from its configured inputs.
type Mixer struct {
	cfg        Config
	targetRate uint32
	logger     *logging.Logger
	inputs     map[ids.InputId]*mixerInput
}

// New constructs a Mixer for one output, spawning one mixerInput
// goroutine per configured input.
func New(cfg Config, targetRate uint32, logger *logging.Logger) *Mixer {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Mixer{
		cfg:        cfg,
		targetRate: targetRate,
		logger:     logger.With("component", "mixer"),
		inputs:     make(map[ids.InputId]*mixerInput, len(cfg.Inputs)),
	}
	for _, ic := range cfg.Inputs {
		m.inputs[ic.InputId] = newMixerInput(ic.InputId, targetRate, m.logger)
	}
	return m
}

// Push delivers one input's audio batch to its dedicated resampler
// goroutine. No-op for inputs this mixer doesn't know about.
func (m *Mixer) Push(id ids.InputId, batch media.InputAudioSamples) {
	if in, ok := m.inputs[id]; ok {
		in.push(batch)
	}
}

// Mix produces count mixed samples at the target rate for this
// output's window, applying per-input volume, the configured combine
// strategy, and a final downmix to cfg.Channels.
func (m *Mixer) Mix(count int) media.OutputAudioSamples {
	sumLeft := make([]float64, count)
	sumRight := make([]float64, count)

	for _, ic := range m.cfg.Inputs {
		in, ok := m.inputs[ic.InputId]
		if !ok {
			continue
		}
		left, right, ok := in.window(count)
		if !ok {
			continue // silence
		}
		for i := 0; i < len(left) && i < count; i++ {
			sumLeft[i] += left[i] * ic.Volume
			sumRight[i] += right[i] * ic.Volume
		}
	}

	applyStrategy(sumLeft, sumRight, m.cfg.Strategy)

	samples := media.AudioSamples{Stereo: true, Left: sumLeft, Right: sumRight}
	if m.cfg.Channels == 1 {
		samples = downmixToMono(samples)
	}
	return media.OutputAudioSamples{Samples: samples}
}

// applyStrategy combines left and right in place according to
// strategy. SumScale's "whole batch" in spec 4.3 spans both channels:
// the peak sample across left and right together sets one scale
// factor applied uniformly to both, so stereo balance is preserved.
func applyStrategy(left, right []float64, strategy Strategy) {
	switch strategy {
	case SumClip:
		for i, s := range left {
			left[i] = clamp(s, -1, 1)
		}
		for i, s := range right {
			right[i] = clamp(s, -1, 1)
		}
	case SumScale:
		peak := 0.0
		for _, s := range left {
			if a := abs(s); a > peak {
				peak = a
			}
		}
		for _, s := range right {
			if a := abs(s); a > peak {
				peak = a
			}
		}
		if peak > 1 {
			scale := 1 / peak
			for i := range left {
				left[i] *= scale
			}
			for i := range right {
				right[i] *= scale
			}
		}
	}
}

func downmixToMono(s media.AudioSamples) media.AudioSamples {
	mono := make([]float64, len(s.Left))
	for i := range mono {
		mono[i] = (s.Left[i] + s.Right[i]) / 2
	}
	return media.AudioSamples{Stereo: false, Mono: mono}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
