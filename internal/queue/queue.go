// Package queue implements the real-time scheduler: one goroutine per
// Queue aligns a wall clock to a sync point and, for every output
// tick, gathers a FrameSet (one Frame per registered input, or a
// fallback) and a SamplesSet (one audio window per input) keyed by a
// deterministic PTS. Grounded on the teacher's pkg/bridge/pacer.go
// (wall-clock-aligned scheduling against an RTP timestamp delta) and
// pkg/nest/queue.go (ticketed per-item selection with a bounded wait),
// generalized from "one relay, one pacer" to "N inputs, one scheduler".
package queue

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/pipelinectx"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

// QueueDataReceiver is the pair of channels an input registers with the
// queue: one carrying decoded frames, one carrying decoded audio
// batches. Either may be nil for an audio-only or video-only input.
type QueueDataReceiver struct {
	Frames  <-chan event.PipelineEvent[media.Frame]
	Samples <-chan event.PipelineEvent[media.InputAudioSamples]
}

// InputOptions configures one registered input.
type InputOptions struct {
	// Required inputs block the scheduler (up to the bounded wait
	// window) rather than silently falling back when no frame is
	// available yet.
	Required bool
	// Offset shifts this input's PTS values before scheduling, letting
	// callers stagger streams that don't share a wall-clock origin.
	Offset time.Duration
	// BufferDuration sizes this input's ring buffer; zero uses the
	// queue's DefaultBufferDuration.
	BufferDuration time.Duration
}

// Options configures a Queue, mirroring compositor_pipeline's
// QueueOptions from the original source.
type Options struct {
	DefaultBufferDuration  time.Duration
	AheadOfTimeProcessing  bool
	OutputFramerate        media.Framerate
	RunLateScheduledEvents bool
	NeverDropOutputFrames  bool
	MixingSampleRate       uint32
	StreamFallbackTimeout  time.Duration
}

// FrameSet is one tick's worth of video input: one Frame per
// registered input (real or fallback), keyed by PTS.
type FrameSet struct {
	Frames map[ids.InputId]media.Frame
	PTS    time.Duration
}

// SamplesSet is one tick's worth of audio input: the batches each
// input produced during [StartPTS, StartPTS+Length).
type SamplesSet struct {
	Samples  map[ids.InputId][]media.InputAudioSamples
	StartPTS time.Duration
	Length   time.Duration
}

type inputEntry struct {
	id   ids.InputId
	opts InputOptions
	recv QueueDataReceiver

	mu     sync.Mutex
	frames []media.Frame
	audio  []media.InputAudioSamples
	eos    bool
	seen   bool
}

// Queue is the real-time scheduler. Construct with New, register
// inputs with AddInput, then call Start exactly once.
type Queue struct {
	opts   Options
	ctx    *pipelinectx.Context
	logger *logging.Logger

	mu     sync.RWMutex
	inputs map[ids.InputId]*inputEntry

	frameOut   chan FrameSet
	samplesOut chan SamplesSet

	syncPoint time.Time
	startOnce sync.Once
	tick      atomic.Int64
}

// New constructs a Queue. The sync point is established lazily, at
// Start, since that's the instant scheduling actually begins.
func New(opts Options, ctx *pipelinectx.Context) *Queue {
	return &Queue{
		opts:       opts,
		ctx:        ctx,
		logger:     logging.Default().With("component", "queue"),
		inputs:     make(map[ids.InputId]*inputEntry),
		frameOut:   make(chan FrameSet, 4),
		samplesOut: make(chan SamplesSet, 4),
	}
}

// Frames returns the channel the renderer reads FrameSets from.
func (q *Queue) Frames() <-chan FrameSet { return q.frameOut }

// Samples returns the channel the mixer reads SamplesSets from.
func (q *Queue) Samples() <-chan SamplesSet { return q.samplesOut }

// AddInput atomically registers an input. Safe to call before or
// after Start.
func (q *Queue) AddInput(id ids.InputId, recv QueueDataReceiver, inOpts InputOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inputs[id] = &inputEntry{id: id, opts: inOpts, recv: recv}
}

// RemoveInput atomically deregisters an input. Frames still in flight
// on its channels are discarded by the next tick, since the entry is
// simply gone.
func (q *Queue) RemoveInput(id ids.InputId) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inputs, id)
}

// InputStatus reports, for every currently registered input, whether
// it has EOSed. The output lifecycle (spec 4.5) polls this to
// evaluate end conditions without the queue needing to know anything
// about outputs.
func (q *Queue) InputStatus() map[ids.InputId]bool {
	q.mu.RLock()
	entries := make(map[ids.InputId]*inputEntry, len(q.inputs))
	for id, e := range q.inputs {
		entries[id] = e
	}
	q.mu.RUnlock()

	status := make(map[ids.InputId]bool, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		status[id] = e.eos
		e.mu.Unlock()
	}
	return status
}

func (q *Queue) emitEvent(ev event.Event) {
	if q.ctx != nil && q.ctx.Events != nil {
		q.ctx.Events.Send(ev)
	}
}

// Start launches the scheduler goroutine. Idempotent: only the first
// call takes effect.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.syncPoint = time.Now()
		go q.schedulerLoop()
	})
}

// StartTime returns the queue_sync_point: the wall-clock instant every
// PTS is measured relative to. Valid only after Start.
func (q *Queue) StartTime() time.Time { return q.syncPoint }

func (q *Queue) bufferDuration(e *inputEntry) time.Duration {
	if e.opts.BufferDuration > 0 {
		return e.opts.BufferDuration
	}
	return q.opts.DefaultBufferDuration
}

func (q *Queue) schedulerLoop() {
	var prevPTS time.Duration
	for k := int64(0); ; k++ {
		targetPTS := q.opts.OutputFramerate.PTSAt(k)
		q.tick.Store(k)

		q.waitForTick(targetPTS)
		q.drainAll()

		frameSet := q.gatherFrames(targetPTS)
		samplesSet := q.gatherSamples(prevPTS, targetPTS)
		prevPTS = targetPTS

		q.emitFrameSet(frameSet)
		q.emitSamplesSet(samplesSet)
	}
}

// waitForTick blocks until targetPTS's wall-clock deadline, unless
// AheadOfTimeProcessing is enabled and every required input already
// has a frame at or past target_pts, in which case it returns early.
func (q *Queue) waitForTick(targetPTS time.Duration) {
	deadline := q.syncPoint.Add(targetPTS)
	if !q.opts.AheadOfTimeProcessing {
		if d := time.Until(deadline); d > 0 {
			time.Sleep(d)
		}
		return
	}

	const pollInterval = 2 * time.Millisecond
	for {
		now := time.Now()
		if !now.Before(deadline) {
			return
		}
		q.drainAll()
		if q.allRequiredReady(targetPTS) {
			return
		}
		remaining := deadline.Sub(now)
		if remaining < pollInterval {
			time.Sleep(remaining)
		} else {
			time.Sleep(pollInterval)
		}
	}
}

// allRequiredReady reports whether the scheduler has a genuine reason
// to wake ahead of targetPTS's wall-clock deadline: at least one
// required input must actually hold a buffered frame at or past
// target_pts. Zero required inputs, or every required input merely
// being EOSed with nothing buffered, must NOT count as ready — that
// would be a vacuous true that lets waitForTick return immediately on
// every poll, racing targetPTS far ahead of the wall clock with
// nothing to show for it (an idle server before any client has
// connected, or one after its only required input EOSes).
func (q *Queue) allRequiredReady(targetPTS time.Duration) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	haveRequired := false
	haveCatchUpFrame := false
	for _, e := range q.inputs {
		if !e.opts.Required {
			continue
		}
		haveRequired = true

		e.mu.Lock()
		ready := e.eos
		if !ready {
			for _, f := range e.frames {
				if f.PTS+e.opts.Offset >= targetPTS {
					ready = true
					haveCatchUpFrame = true
					break
				}
			}
		}
		e.mu.Unlock()
		if !ready {
			return false
		}
	}
	return haveRequired && haveCatchUpFrame
}

// drainAll empties every input's channels into its ring buffer,
// non-blocking. A closed channel is treated as EOS, per the "channel
// hang-up is equivalent to EOS" failure rule.
func (q *Queue) drainAll() {
	q.mu.RLock()
	entries := make([]*inputEntry, 0, len(q.inputs))
	for _, e := range q.inputs {
		entries = append(entries, e)
	}
	q.mu.RUnlock()

	for _, e := range entries {
		q.drainOne(e)
	}
}

func (q *Queue) drainOne(e *inputEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eos {
		return
	}

	wasSeen := e.seen
	if e.recv.Frames != nil {
	frameDrain:
		for {
			select {
			case ev, ok := <-e.recv.Frames:
				if !ok {
					e.eos = true
					break frameDrain
				}
				if ev.IsEOS() {
					e.eos = true
					break frameDrain
				}
				e.seen = true
				e.frames = append(e.frames, ev.Data)
			default:
				break frameDrain
			}
		}
	}

	if e.recv.Samples != nil {
	sampleDrain:
		for {
			select {
			case ev, ok := <-e.recv.Samples:
				if !ok {
					break sampleDrain
				}
				if ev.IsEOS() {
					break sampleDrain
				}
				e.audio = append(e.audio, ev.Data)
			default:
				break sampleDrain
			}
		}
	}

	if !wasSeen && e.seen {
		q.emitEvent(event.Event{Type: event.TypeInputPlaying, InputId: string(e.id)})
	}
	if e.eos {
		q.emitEvent(event.Event{Type: event.TypeInputEOS, InputId: string(e.id)})
	}

	if len(e.frames) > 1 {
		sort.Slice(e.frames, func(i, j int) bool { return e.frames[i].PTS < e.frames[j].PTS })
	}
}

func (q *Queue) gatherFrames(targetPTS time.Duration) FrameSet {
	q.mu.RLock()
	entries := make(map[ids.InputId]*inputEntry, len(q.inputs))
	for id, e := range q.inputs {
		entries[id] = e
	}
	q.mu.RUnlock()

	frames := make(map[ids.InputId]media.Frame, len(entries))
	for id, e := range entries {
		frames[id] = q.selectFrame(e, targetPTS)
	}
	return FrameSet{Frames: frames, PTS: targetPTS}
}

// selectFrame implements spec 4.1's frame selection: best PTS match,
// fallback reuse of a stale frame within the fallback timeout, a
// bounded block for required inputs, or a transparent minimum-
// resolution frame otherwise.
func (q *Queue) selectFrame(e *inputEntry, targetPTS time.Duration) media.Frame {
	e.mu.Lock()
	best, idx, ok := bestMatch(e.frames, targetPTS, e.opts.Offset)
	if ok && targetPTS-(best.PTS+e.opts.Offset) > q.opts.StreamFallbackTimeout {
		// The closest frame is older than target_pts by more than the
		// configured fallback window: spec 4.1 only allows reusing a
		// stale frame within stream_fallback_timeout, so this one is too
		// old to count as a match and falls through to the required-wait
		// or transparent-fallback paths below instead.
		ok = false
	}
	if ok {
		e.frames = dropOlderThan(e.frames, idx)
		e.mu.Unlock()
		return best
	}
	e.mu.Unlock()

	if e.opts.Required && !e.eos {
		if f, ok := q.waitForRequiredFrame(e, targetPTS); ok {
			return f
		}
	}

	return media.Frame{
		Data:       media.FrameData{Kind: media.FrameDataPlanarYUV420},
		PTS:        targetPTS,
		Resolution: media.MinResolution,
	}
}

// bestMatch returns the frame in frames with the smallest absolute PTS
// distance to targetPTS, ties broken toward the later frame, and its
// index. ok is false only when the buffer is empty; whether the chosen
// frame is too old to use is checked by the callers, which have the
// queue's configured fallback timeout.
func bestMatch(frames []media.Frame, targetPTS, offset time.Duration) (media.Frame, int, bool) {
	if len(frames) == 0 {
		return media.Frame{}, 0, false
	}
	bestIdx := -1
	var bestDist time.Duration
	for i, f := range frames {
		pts := f.PTS + offset
		dist := pts - targetPTS
		if dist < 0 {
			dist = -dist
		}
		if bestIdx == -1 || dist < bestDist || (dist == bestDist && pts >= frames[bestIdx].PTS+offset) {
			bestIdx = i
			bestDist = dist
		}
	}
	return frames[bestIdx], bestIdx, true
}

func dropOlderThan(frames []media.Frame, selected int) []media.Frame {
	if selected <= 0 {
		return frames
	}
	kept := make([]media.Frame, len(frames)-selected)
	copy(kept, frames[selected:])
	return kept
}

// waitForRequiredFrame blocks polling this input's channel until a
// frame no older than the stream fallback timeout before targetPTS is
// buffered (the same staleness rule selectFrame applies), EOS fires,
// or the bounded wait window (the same timeout) elapses.
func (q *Queue) waitForRequiredFrame(e *inputEntry, targetPTS time.Duration) (media.Frame, bool) {
	deadline := time.Now().Add(q.opts.StreamFallbackTimeout)
	const pollInterval = time.Millisecond
	for time.Now().Before(deadline) {
		q.drainOne(e)
		e.mu.Lock()
		if f, idx, ok := bestMatch(e.frames, targetPTS, e.opts.Offset); ok && targetPTS-(f.PTS+e.opts.Offset) <= q.opts.StreamFallbackTimeout {
			e.frames = dropOlderThan(e.frames, idx)
			e.mu.Unlock()
			return f, true
		}
		eos := e.eos
		e.mu.Unlock()
		if eos {
			return media.Frame{}, false
		}
		time.Sleep(pollInterval)
	}
	return media.Frame{}, false
}

func (q *Queue) gatherSamples(prevPTS, targetPTS time.Duration) SamplesSet {
	q.mu.RLock()
	entries := make(map[ids.InputId]*inputEntry, len(q.inputs))
	for id, e := range q.inputs {
		entries[id] = e
	}
	q.mu.RUnlock()

	samples := make(map[ids.InputId][]media.InputAudioSamples, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		var batch []media.InputAudioSamples
		var remaining []media.InputAudioSamples
		for _, s := range e.audio {
			if s.StartPTS < targetPTS {
				// Consumed into this tick's window once, not kept around
				// for the next: a batch whose EndPTS also exceeds
				// targetPTS must not be pushed into the mixer a second
				// time on the following tick.
				batch = append(batch, s)
			} else {
				remaining = append(remaining, s)
			}
		}
		e.audio = remaining
		e.mu.Unlock()
		samples[id] = batch
	}

	return SamplesSet{
		Samples:  samples,
		StartPTS: prevPTS,
		Length:   targetPTS - prevPTS,
	}
}

func (q *Queue) emitFrameSet(fs FrameSet) {
	if q.opts.NeverDropOutputFrames {
		q.frameOut <- fs
		return
	}
	select {
	case q.frameOut <- fs:
	default:
		q.logger.Warn("dropping frame set, renderer channel full", "pts", fs.PTS)
	}
}

func (q *Queue) emitSamplesSet(ss SamplesSet) {
	if q.opts.NeverDropOutputFrames {
		q.samplesOut <- ss
		return
	}
	select {
	case q.samplesOut <- ss:
	default:
		q.logger.Warn("dropping samples set, mixer channel full", "start_pts", ss.StartPTS)
	}
}
