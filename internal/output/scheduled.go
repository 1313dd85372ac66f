package output

import (
	"sort"
	"sync"
	"time"

	"github.com/smelter-run/smelter/internal/scene"
)

// ScheduledUpdate is one deferred scene update or unregistration, per
// spec 4.5 ("Scene updates may carry schedule_time ... deferred until
// the queue's next tick at or after that time, preserving the order
// in which updates were submitted").
type ScheduledUpdate struct {
	At         time.Duration
	submitSeq  uint64
	Root       scene.Component
	Transition scene.Transition
	Unregister bool
}

// Scheduler holds scene updates (and output-unregister requests) that
// haven't reached their scheduled PTS yet, applying them in the order
// they were submitted once the queue's tick catches up.
type Scheduler struct {
	mu      sync.Mutex
	pending []ScheduledUpdate
	nextSeq uint64
}

// NewScheduler constructs an empty Scheduler. The Scheduler does not
// consult the queue's RunLateScheduledEvents option: an update whose
// schedule_time has already passed is accepted and returned at the
// next Ready call, in submission order.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Submit enqueues an update. Updates are always accepted, including
// ones whose schedule_time has already passed.
func (s *Scheduler) Submit(u ScheduledUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.submitSeq = s.nextSeq
	s.nextSeq++
	s.pending = append(s.pending, u)
	sort.SliceStable(s.pending, func(i, j int) bool {
		if s.pending[i].At != s.pending[j].At {
			return s.pending[i].At < s.pending[j].At
		}
		return s.pending[i].submitSeq < s.pending[j].submitSeq
	})
}

// Ready pops every update whose schedule time is at or before tickPTS
// and returns them in submission order, for the caller to apply on
// this tick. Updates that were already late when submitted are
// returned too; none are dropped.
func (s *Scheduler) Ready(tickPTS time.Duration) []ScheduledUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.pending) && s.pending[i].At <= tickPTS {
		i++
	}
	ready := append([]ScheduledUpdate(nil), s.pending[:i]...)
	sort.SliceStable(ready, func(a, b int) bool { return ready[a].submitSeq < ready[b].submitSeq })
	s.pending = s.pending[i:]
	return ready
}

// Pending reports how many updates are still waiting for their tick.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
