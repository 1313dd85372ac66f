package whip

import (
	"sort"
	"sync"
	"time"

	"github.com/smelter-run/smelter/pkg/media"
)

// JitterBufferMode selects between the two buffering strategies spec
// 4.6 names for reordering and smoothing inbound RTP-derived chunks
// before they reach a decode chain.
type JitterBufferMode int

const (
	// JitterFixed holds chunks for a fixed wall-clock duration before
	// releasing the oldest one, regardless of how many have arrived.
	JitterFixed JitterBufferMode = iota
	// JitterQueueBased releases whenever the buffer holds at least
	// TargetDepth chunks, trading a fixed delay for a fixed backlog.
	JitterQueueBased
)

// JitterBufferOptions configures a jitterBuffer.
type JitterBufferOptions struct {
	Mode         JitterBufferMode
	FixedDelay   time.Duration
	TargetDepth  int
	Capacity     int
	OnLostData   func()
}

func (o JitterBufferOptions) withDefaults() JitterBufferOptions {
	if o.FixedDelay <= 0 {
		o.FixedDelay = 200 * time.Millisecond
	}
	if o.TargetDepth <= 0 {
		o.TargetDepth = 3
	}
	if o.Capacity <= 0 {
		o.Capacity = 64
	}
	return o
}

// jitterBuffer reorders a per-track stream of EncodedChunks by PTS and
// releases them on a delay, per spec 4.6. It is bounded: once full the
// oldest chunk is dropped and OnLostData fires, mirroring the queue's
// own bounded-ring-buffer drop policy (spec 3) rather than blocking the
// RTP reader goroutine feeding it.
type jitterBuffer struct {
	opts JitterBufferOptions

	mu      sync.Mutex
	pending []media.EncodedChunk
	arrival []time.Time
}

func newJitterBuffer(opts JitterBufferOptions) *jitterBuffer {
	return &jitterBuffer{opts: opts.withDefaults()}
}

// Push inserts chunk in PTS order, evicting the entry with the lowest
// PTS if the buffer is already at capacity.
func (j *jitterBuffer) Push(chunk media.EncodedChunk) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.pending) >= j.opts.Capacity {
		j.pending = j.pending[1:]
		j.arrival = j.arrival[1:]
		if j.opts.OnLostData != nil {
			j.opts.OnLostData()
		}
	}

	idx := sort.Search(len(j.pending), func(i int) bool {
		return j.pending[i].PTS > chunk.PTS
	})
	j.pending = append(j.pending, media.EncodedChunk{})
	copy(j.pending[idx+1:], j.pending[idx:])
	j.pending[idx] = chunk

	j.arrival = append(j.arrival, time.Time{})
	copy(j.arrival[idx+1:], j.arrival[idx:])
	j.arrival[idx] = time.Now()
}

// Ready drains every chunk whose release condition has been met: past
// FixedDelay in JitterFixed mode, or as soon as TargetDepth chunks are
// buffered in JitterQueueBased mode.
func (j *jitterBuffer) Ready() []media.EncodedChunk {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.opts.Mode {
	case JitterQueueBased:
		if len(j.pending) < j.opts.TargetDepth {
			return nil
		}
		n := len(j.pending) - j.opts.TargetDepth + 1
		out := append([]media.EncodedChunk(nil), j.pending[:n]...)
		j.pending = j.pending[n:]
		j.arrival = j.arrival[n:]
		return out
	default:
		now := time.Now()
		n := 0
		for n < len(j.arrival) && now.Sub(j.arrival[n]) >= j.opts.FixedDelay {
			n++
		}
		if n == 0 {
			return nil
		}
		out := append([]media.EncodedChunk(nil), j.pending[:n]...)
		j.pending = j.pending[n:]
		j.arrival = j.arrival[n:]
		return out
	}
}
