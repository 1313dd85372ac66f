// Package registry implements the pipeline registry named in spec
// 2/5: a process-wide object owning the input/output tables, the
// queue, the renderer, the audio mixer and the event emitter, driving
// registration/unregistration under one lock and running the
// scheduler's two dispatch loops (FrameSet -> per-output render,
// SamplesSet -> per-output mix) described in spec 2 step 10 ("a single
// queue thread ... dispatches the assembled sets to the renderer and
// mixer, and pushes the results into per-output sender channels").
// Grounded on the teacher's pkg/nest/multi_manager.go (one top-level
// object owning a map of per-camera state behind a single mutex,
// Register/Unregister pairs that are always best-effort on teardown)
// generalized from "cameras" to "inputs and outputs".
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/smelter-run/smelter/internal/logging"
	"github.com/smelter-run/smelter/internal/mixer"
	"github.com/smelter-run/smelter/internal/output"
	"github.com/smelter-run/smelter/internal/pipelinectx"
	"github.com/smelter-run/smelter/internal/queue"
	"github.com/smelter-run/smelter/internal/render"
	"github.com/smelter-run/smelter/internal/scene"
	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

// InputProtocol names which collaborator completed setup before
// handing its QueueDataReceiver to RegisterInput, per spec 6.1's
// ProtocolInputOptions union. The registry itself is protocol-
// agnostic; this only labels the record for logging/stats.
type InputProtocol int

const (
	ProtocolRTP InputProtocol = iota
	ProtocolMP4
	ProtocolHLS
	ProtocolWHIP
	ProtocolWHEP
	ProtocolV4L2
	ProtocolDeckLink
)

// RegisterInputOptions mirrors spec 6.1's RegisterInputOptions: the
// protocol tag is informational (the adapter has already done its
// protocol-specific setup by the time this is called, per spec 3's
// Lifecycle section), plus the QueueInputOptions bag and the
// channels the queue actually schedules against.
type RegisterInputOptions struct {
	Protocol       InputProtocol
	Receivers      queue.QueueDataReceiver
	Required       bool
	Offset         time.Duration
	BufferDuration time.Duration
}

// InputInitInfo is returned from RegisterInput on success.
type InputInitInfo struct {
	Ref ids.Ref[ids.InputId]
}

// OutputProtocol is RegisterInputOptions' output-side counterpart,
// per spec 6.1's ProtocolOutputOptions union.
type OutputProtocol int

const (
	OutputProtocolRTP OutputProtocol = iota
	OutputProtocolRTMP
	OutputProtocolMP4
	OutputProtocolHLS
	OutputProtocolWHIP
	OutputProtocolWHEP
)

// RegisterOutputOptions mirrors spec 6.1's RegisterOutputOptions. Video
// and Audio are nil for outputs missing that media kind; at least one
// must be set.
type RegisterOutputOptions struct {
	Protocol     OutputProtocol
	Resolution   media.Resolution
	Format       render.OutputFrameFormat
	Framerate    media.Framerate
	EndCondition output.EndCondition
	Video        *output.VideoChainOptions
	Audio        *output.AudioChainOptions
	Mixer        mixer.Config
}

// OutputInitInfo is returned from RegisterOutput on success, carrying
// the handles produced by the video/audio encode chain construction
// contract (spec 4.2).
type OutputInitInfo struct {
	Ref   ids.Ref[ids.OutputId]
	Video output.VideoChainHandle
	Audio output.AudioChainHandle
}

// UpdateSceneOptions configures one update_scene call, per spec 6.1.
type UpdateSceneOptions struct {
	Transition   scene.Transition
	ScheduleTime *time.Duration
}

// UnregisterOutputOptions configures a deferred unregistration, per
// spec 4.5/6.1's `{ schedule_time?: ms }`.
type UnregisterOutputOptions struct {
	ScheduleTime *time.Duration
}

type inputRecord struct {
	ref  ids.Ref[ids.InputId]
	opts RegisterInputOptions
}

type outputRecord struct {
	ref        ids.Ref[ids.OutputId]
	resolution media.Resolution
	format     render.OutputFrameFormat
	framerate  media.Framerate

	sceneMu sync.Mutex
	scene   *scene.State

	mixer     *mixer.Mixer
	lifecycle *output.Lifecycle
	scheduler *output.Scheduler

	video output.VideoChainHandle
	audio output.AudioChainHandle
}

// Registry is the pipeline registry. Construct with New, call Start
// once, then Register*/Unregister* as inputs and outputs come and go.
type Registry struct {
	ctx    *pipelinectx.Context
	q      *queue.Queue
	events *event.Emitter
	logger *logging.Logger
	seq    *ids.SeqCounter

	assets  *assetStore
	fonts   *fontStore
	shaders map[string]render.ShaderFunc

	renderer *render.Renderer

	mu      sync.Mutex
	inputs  map[ids.InputId]*inputRecord
	outputs map[ids.OutputId]*outputRecord
	started bool
}

// New constructs a Registry wired to ctx's shared pipeline context.
// rasterizer may be nil (Text components then render as transparent,
// without an error, per render.Renderer's documented fallback).
func New(ctx *pipelinectx.Context, qOpts queue.Options, rasterizer render.TextRasterizer) *Registry {
	assets := newAssetStore()
	shaders := make(map[string]render.ShaderFunc)
	r := &Registry{
		ctx:     ctx,
		q:       queue.New(qOpts, ctx),
		events:  ctx.Events,
		logger:  logging.Default().With("component", "registry"),
		seq:     &ids.SeqCounter{},
		assets:  assets,
		fonts:   newFontStore(),
		shaders: shaders,
		inputs:  make(map[ids.InputId]*inputRecord),
		outputs: make(map[ids.OutputId]*outputRecord),
	}
	r.renderer = render.New(ctx, shaders, rasterizer, assets)
	return r
}

// Start launches the queue scheduler and the registry's own render/
// mix dispatch loops. Idempotent: only the first call takes effect.
// Registration remains permitted after Start, per spec 6.1.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.q.Start()
	go r.renderLoop()
	go r.audioLoop()
}

// RegisterInput atomically registers an input, per spec 4.1's
// add_input contract. Duplicate ids are rejected, per spec 3's
// invariant that at most one input adapter is registered per InputId
// at any moment.
func (r *Registry) RegisterInput(id ids.InputId, opts RegisterInputOptions) (InputInitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inputs[id]; exists {
		return InputInitInfo{}, fmt.Errorf("register input %s: already registered", id)
	}

	ref := ids.NewRef(r.seq, id)
	r.inputs[id] = &inputRecord{ref: ref, opts: opts}
	r.q.AddInput(id, opts.Receivers, queue.InputOptions{
		Required:       opts.Required,
		Offset:         opts.Offset,
		BufferDuration: opts.BufferDuration,
	})
	r.logger.Info("input registered", "input_id", id.String(), "seq", ref.Seq)
	return InputInitInfo{Ref: ref}, nil
}

// UnregisterInput atomically deregisters an input. Best-effort and
// idempotent: unregistering an id that isn't currently registered is
// a no-op, not an error, per spec 7's propagation policy.
func (r *Registry) UnregisterInput(id ids.InputId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterInputLocked(id)
}

func (r *Registry) unregisterInputLocked(id ids.InputId) {
	if _, exists := r.inputs[id]; !exists {
		return
	}
	delete(r.inputs, id)
	r.q.RemoveInput(id)
	r.logger.Info("input unregistered", "input_id", id.String())
}

// RegisterOutput atomically registers an output: it spawns the
// video/audio encode chains (outside the registry lock, since chain
// construction can block briefly on the workerthread init handshake
// and spec 5 forbids holding the registration lock across blocking
// channel operations), then stores the resulting handles under the
// lock.
func (r *Registry) RegisterOutput(id ids.OutputId, opts RegisterOutputOptions) (OutputInitInfo, error) {
	r.mu.Lock()
	if _, exists := r.outputs[id]; exists {
		r.mu.Unlock()
		return OutputInitInfo{}, fmt.Errorf("register output %s: already registered", id)
	}
	r.mu.Unlock()

	if opts.Video == nil && opts.Audio == nil {
		return OutputInitInfo{}, fmt.Errorf("register output %s: neither video nor audio configured", id)
	}

	var videoHandle output.VideoChainHandle
	var audioHandle output.AudioChainHandle
	var err error

	if opts.Video != nil {
		opts.Video.OutputId = id
		videoHandle, err = output.SpawnVideoChain(*opts.Video)
		if err != nil {
			return OutputInitInfo{}, fmt.Errorf("register output %s: %w", id, err)
		}
	}
	if opts.Audio != nil {
		opts.Audio.OutputId = id
		audioHandle, err = output.SpawnAudioChain(*opts.Audio)
		if err != nil {
			return OutputInitInfo{}, fmt.Errorf("register output %s: %w", id, err)
		}
	}

	var mx *mixer.Mixer
	if opts.Audio != nil {
		mx = mixer.New(opts.Mixer, r.ctx.MixingSampleRate, r.logger)
	}
	rec := &outputRecord{
		resolution: opts.Resolution,
		format:     opts.Format,
		framerate:  opts.Framerate,
		mixer:      mx,
		lifecycle:  output.NewLifecycle(id, opts.EndCondition, r.events),
		scheduler:  output.NewScheduler(),
		video:      videoHandle,
		audio:      audioHandle,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.outputs[id]; exists {
		return OutputInitInfo{}, fmt.Errorf("register output %s: already registered", id)
	}
	ref := ids.NewRef(r.seq, id)
	rec.ref = ref
	r.outputs[id] = rec
	r.logger.Info("output registered", "output_id", id.String(), "seq", ref.Seq)
	return OutputInitInfo{Ref: ref, Video: videoHandle, Audio: audioHandle}, nil
}

// UnregisterOutput atomically deregisters an output. Immediate
// (ScheduleTime nil) or deferred to the next tick at or after
// ScheduleTime, per spec 4.5/6.1. Best-effort and idempotent.
func (r *Registry) UnregisterOutput(id ids.OutputId, opts UnregisterOutputOptions) {
	r.mu.Lock()
	rec, exists := r.outputs[id]
	r.mu.Unlock()
	if !exists {
		return
	}
	if opts.ScheduleTime == nil {
		r.unregisterOutputLocked(id)
		return
	}
	rec.scheduler.Submit(output.ScheduledUpdate{At: *opts.ScheduleTime, Unregister: true})
}

func (r *Registry) unregisterOutputLocked(id ids.OutputId) {
	r.mu.Lock()
	rec, exists := r.outputs[id]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.outputs, id)
	r.mu.Unlock()

	// Terminal EOS, then close: the encode chain's run loop observes
	// EOS, flushes (RTCP BYE on the payloader), and returns; closing
	// afterward is what actually lets its goroutine's range loop end.
	if rec.video.Frames != nil {
		select {
		case rec.video.Frames <- event.EOS[media.Frame]():
		default:
		}
		close(rec.video.Frames)
	}
	if rec.audio.Samples != nil {
		select {
		case rec.audio.Samples <- event.EOS[media.OutputAudioSamples]():
		default:
		}
		close(rec.audio.Samples)
	}
	r.logger.Info("output unregistered", "output_id", id.String())
}

// UpdateScene installs a new scene tree for an output, per spec 6.1.
// Immediate when ScheduleTime is nil; otherwise deferred to the
// queue's next tick at or after ScheduleTime, preserving submission
// order across multiple deferred updates, per spec 4.5.
func (r *Registry) UpdateScene(id ids.OutputId, root scene.Component, opts UpdateSceneOptions) error {
	r.mu.Lock()
	rec, exists := r.outputs[id]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("update scene %s: unknown output", id)
	}

	if opts.ScheduleTime == nil {
		r.applySceneUpdate(rec, root, opts.Transition)
		return nil
	}
	rec.scheduler.Submit(output.ScheduledUpdate{
		At:         *opts.ScheduleTime,
		Root:       root,
		Transition: opts.Transition,
	})
	return nil
}

func (r *Registry) applySceneUpdate(rec *outputRecord, root scene.Component, tr scene.Transition) {
	rec.sceneMu.Lock()
	defer rec.sceneMu.Unlock()
	if rec.scene == nil {
		rec.scene = scene.NewState(root)
		return
	}
	rec.scene.Update(root, tr)
}

// RegisterShader installs a named WGSL-equivalent shader function,
// per spec 6.1's register_shader.
func (r *Registry) RegisterShader(id ids.RendererId, fn render.ShaderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shaders[string(id)] = fn
}

// UnregisterShader removes a previously registered shader.
func (r *Registry) UnregisterShader(id ids.RendererId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shaders, string(id))
}

// RegisterImage installs a decoded image asset under id, per spec
// 6.1's register_image. Decoding the source (on-disk or downloaded)
// is an external collaborator's job per spec 1's Non-goals; this only
// stores the already-decoded RGBA bytes.
func (r *Registry) RegisterImage(id ids.RendererId, asset render.RGBA) {
	r.assets.put(string(id), asset)
}

// UnregisterImage removes a previously registered image asset.
func (r *Registry) UnregisterImage(id ids.RendererId) {
	r.assets.remove(string(id))
}

// RegisterFont installs a font source, per spec 6.1's register_font.
// There is no font_id in the control surface's signature, so fonts
// accumulate; Fonts exposes the current set to whatever TextRasterizer
// collaborator was supplied at New.
func (r *Registry) RegisterFont(src FontSource) {
	r.fonts.add(src)
}

// Fonts returns every font source registered so far.
func (r *Registry) Fonts() []FontSource {
	return r.fonts.All()
}

// Reset unregisters everything and returns the registry to its
// pre-start state, per spec 6.1's reset(). The queue and its
// scheduler goroutine are not restartable once stopped, so Reset
// constructs a fresh Queue bound to the same pipeline context;
// callers must call Start again afterward.
func (r *Registry) Reset(qOpts queue.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = make(map[ids.InputId]*inputRecord)
	r.outputs = make(map[ids.OutputId]*outputRecord)
	r.q = queue.New(qOpts, r.ctx)
	r.started = false
	r.logger.Info("registry reset")
}
