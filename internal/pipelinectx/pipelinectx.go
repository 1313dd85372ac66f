// Package pipelinectx carries the handful of values every pipeline
// component needs at construction time: the queue's sync point, the
// shared graphics context, STUN servers, the download root, and the
// event emitter. It mirrors compositor_pipeline::PipelineCtx from the
// original source.
package pipelinectx

import (
	"time"

	"github.com/smelter-run/smelter/pkg/event"
	"github.com/smelter-run/smelter/pkg/media"
)

// GraphicsContext is the GPU device/queue/decoder abstraction the core
// consumes but never constructs itself (out of core scope per spec
// §1). Production wiring supplies a real implementation backed by
// wgpu/Vulkan video; the core only needs to know what it can do.
type GraphicsContext interface {
	// SupportsVulkanVideoDecode reports whether this context can hand
	// out a Vulkan-accelerated H264 decoder.
	SupportsVulkanVideoDecode() bool
	// RenderingMode reports which internal rendering mode the context
	// was built for (GPU-optimized, CPU-optimized, or WebGL).
	RenderingMode() RenderingMode
}

// RenderingMode is the closed set of rendering backends named in
// spec §4.4.
type RenderingMode int

const (
	RenderingModeGPUOptimized RenderingMode = iota
	RenderingModeCPUOptimized
	RenderingModeWebGL
)

// Options configures pipeline construction, mirroring
// compositor_pipeline::PipelineOptions from the original source.
type Options struct {
	OutputFramerate          media.Framerate
	MixingSampleRate         uint32
	StreamFallbackTimeout    time.Duration
	DownloadRoot             string
	StunServers              []string
	Graphics                 GraphicsContext
	AheadOfTimeProcessing    bool
	NeverDropOutputFrames    bool
	RunLateScheduledEvents   bool
}

// Context is the shared, immutable-after-construction bag handed to
// every component (queue, mixer, renderer, WHIP server) at setup time.
type Context struct {
	SyncPoint        time.Time
	MixingSampleRate uint32
	OutputFramerate  media.Framerate
	StunServers      []string
	DownloadRoot     string
	Graphics         GraphicsContext
	Events           *event.Emitter
}

// New constructs a Context, recording its creation instant as
// SyncPoint. The queue does not read it: it schedules against its own
// sync point, set when the queue is started.
func New(opts Options, emitter *event.Emitter) *Context {
	return &Context{
		SyncPoint:        time.Now(),
		MixingSampleRate: opts.MixingSampleRate,
		OutputFramerate:  opts.OutputFramerate,
		StunServers:      opts.StunServers,
		DownloadRoot:     opts.DownloadRoot,
		Graphics:         opts.Graphics,
		Events:           emitter,
	}
}

// Elapsed returns the duration since the Context's SyncPoint.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.SyncPoint)
}
