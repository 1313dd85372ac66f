package output

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smelter-run/smelter/internal/logging"
)

// keyframeDebounce bounds how often a PLI/FIR storm can force a fresh
// IDR; a client retransmitting RTCP feedback every few milliseconds
// should not make the encoder emit an IDR on every frame.
const keyframeDebounce = 500 * time.Millisecond

// KeyframeRequester is the output handle's keyframe-request channel
// from spec 4.5: the wire layer writes into it on client feedback
// (RTCP PLI/FIR), the encoder thread drains it and forces an IDR on
// its next frame. Requests are rate-limited the way the teacher's
// pkg/nest/queue.go CommandQueue rate-limits outbound API calls —
// same token-bucket idea, applied here to debounce IDR storms instead
// of Nest calls.
type KeyframeRequester struct {
	limiter *rate.Limiter
	logger  *logging.Logger

	mu      sync.Mutex
	pending bool
	closed  bool
}

// NewKeyframeRequester constructs a requester debounced to at most one
// forced keyframe per keyframeDebounce window.
func NewKeyframeRequester(logger *logging.Logger) *KeyframeRequester {
	if logger == nil {
		logger = logging.Default()
	}
	return &KeyframeRequester{
		limiter: rate.NewLimiter(rate.Every(keyframeDebounce), 1),
		logger:  logger,
	}
}

// ClosedKeyframeRequester returns a requester that is already closed,
// for outputs without a meaningful notion of a keyframe (e.g. raw
// data) so that callers can write into the channel uniformly without
// a nil check, per spec 4.5's "static, already-closed sender"
// substitution.
func ClosedKeyframeRequester() *KeyframeRequester {
	return &KeyframeRequester{closed: true}
}

// Request records a keyframe request from the wire layer. Debounced:
// requests arriving faster than keyframeDebounce allows are silently
// dropped, whether or not an earlier request is still pending.
func (k *KeyframeRequester) Request() {
	if k == nil || k.closed {
		return
	}
	if !k.limiter.Allow() {
		return
	}
	k.mu.Lock()
	k.pending = true
	k.mu.Unlock()
}

// Consume reports whether a keyframe was requested since the last
// Consume call, clearing the flag.
func (k *KeyframeRequester) Consume() bool {
	if k == nil || k.closed {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	pending := k.pending
	k.pending = false
	return pending
}
