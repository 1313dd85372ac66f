package registry

import (
	"time"

	"github.com/smelter-run/smelter/internal/queue"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/ids"
)

// renderLoop is the registry's half of the "single queue thread
// dispatches to the renderer" flow from spec 2 step 10: for every
// FrameSet the queue produces, compile each output's current scene
// state against it and push the result into that output's video
// chain. Runs for the registry's lifetime.
func (r *Registry) renderLoop() {
	for fs := range r.q.Frames() {
		now := time.Now()
		recs := r.snapshotOutputs()

		for id, rec := range recs {
			r.applyReadyScheduled(id, rec, fs.PTS)
		}

		// Re-snapshot: applyReadyScheduled may have unregistered an
		// output whose scheduled update was itself an unregister.
		recs = r.snapshotOutputs()
		for id, rec := range recs {
			r.renderOne(id, rec, fs, now)
		}

		r.evaluateEndConditions()
	}
}

func (r *Registry) renderOne(id ids.OutputId, rec *outputRecord, fs queue.FrameSet, now time.Time) {
	rec.sceneMu.Lock()
	state := rec.scene
	rec.sceneMu.Unlock()
	if state == nil || rec.video.Frames == nil {
		return
	}

	root := state.Compile(now)
	frame, err := r.renderer.Render(root, fs.Frames, rec.resolution, rec.format, fs.PTS.Seconds())
	if err != nil {
		r.logger.Warn("render failed, dropping frame", "output_id", id.String(), "error", err)
		return
	}
	frame.PTS = fs.PTS

	select {
	case rec.video.Frames <- event.Data(frame):
	default:
		r.logger.Warn("dropping frame for output, channel full", "output_id", id.String())
	}
}

// audioLoop is the registry's half of the "dispatches to the mixer"
// flow: for every SamplesSet, feed each output's mixer the batches it
// configured and push the mixed result into that output's audio
// chain.
func (r *Registry) audioLoop() {
	mixingRate := r.ctx.MixingSampleRate
	if mixingRate == 0 {
		mixingRate = 48000
	}
	for ss := range r.q.Samples() {
		recs := r.snapshotOutputs()
		count := int(ss.Length.Seconds() * float64(mixingRate))

		for id, rec := range recs {
			if rec.mixer == nil {
				continue
			}
			for inputId, batches := range ss.Samples {
				for _, batch := range batches {
					rec.mixer.Push(inputId, batch)
				}
			}
			if rec.audio.Samples == nil || count <= 0 {
				continue
			}
			mixed := rec.mixer.Mix(count)
			mixed.StartPTS = ss.StartPTS
			select {
			case rec.audio.Samples <- event.Data(mixed):
			default:
				r.logger.Warn("dropping audio batch for output, channel full", "output_id", id.String())
			}
		}
	}
}

// applyReadyScheduled applies every scheduled update (scene change or
// unregister) whose schedule_time has arrived, in submission order,
// per spec 4.5.
func (r *Registry) applyReadyScheduled(id ids.OutputId, rec *outputRecord, tickPTS time.Duration) {
	for _, u := range rec.scheduler.Ready(tickPTS) {
		if u.Unregister {
			r.unregisterOutputLocked(id)
			return
		}
		r.applySceneUpdate(rec, u.Root, u.Transition)
	}
}

// evaluateEndConditions re-checks every output's end condition
// against the queue's current input EOS flags, per spec 4.5/8
// (testable property 9). Run once per video tick, which satisfies
// spec 4.5's "evaluated after every input EOS flip" closely enough:
// an EOS flip is only ever observed by the next tick anyway, since
// the queue itself discovers EOS while draining on that same tick.
func (r *Registry) evaluateEndConditions() {
	status := r.q.InputStatus()
	registered := make(map[ids.InputId]bool, len(status))
	eosed := make(map[ids.InputId]bool, len(status))
	for id, eos := range status {
		registered[id] = true
		if eos {
			eosed[id] = true
		}
	}

	recs := r.snapshotOutputs()
	for id, rec := range recs {
		if rec.lifecycle.Evaluate(registered, eosed) {
			r.unregisterOutputLocked(id)
		}
	}
}

func (r *Registry) snapshotOutputs() map[ids.OutputId]*outputRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make(map[ids.OutputId]*outputRecord, len(r.outputs))
	for id, rec := range r.outputs {
		recs[id] = rec
	}
	return recs
}
