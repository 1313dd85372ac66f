package scene

import "time"

// Transition describes how a scene update morphs from the previous
// tree into the next one, per spec 4.4.
type Transition struct {
	Start           time.Time
	Duration        time.Duration
	Easing          Easing
	ShouldInterrupt bool
}

// progress returns the eased s ∈ [0,1] for now, or (1, true) once the
// transition has completed.
func (tr Transition) progress(now time.Time) (s float64, done bool) {
	if tr.Duration <= 0 {
		return 1, true
	}
	t := float64(now.Sub(tr.Start)) / float64(tr.Duration)
	t = clamp01(t)
	easing := tr.Easing
	if easing == nil {
		easing = Linear{}
	}
	return clamp01(easing.Ease(t)), t >= 1
}

// State is the stateful scene state for one output: the currently
// promoted tree, and — while a transition is in flight — the tree it
// started from.
type State struct {
	current Component
	from    *Component
	tr      Transition
}

// NewState constructs scene state with no in-flight transition.
func NewState(root Component) *State {
	return &State{current: root}
}

// Update installs a new target tree. If tr.Duration > 0 the update is
// interpolated from the state's current tree; the ShouldInterrupt flag
// is carried on Transition for callers to consult (a transition
// already in flight is always replaced by construction — the core
// never queues more than one pending transition per output).
func (s *State) Update(root Component, tr Transition) {
	prev := s.current
	s.from = &prev
	s.current = root
	s.tr = tr
	if s.tr.Start.IsZero() {
		s.tr.Start = time.Now()
	}
}

// Compile produces the render-ready tree for now, interpolating
// between the previous and next tree while a transition is in flight,
// and promoting the next tree once the transition completes (spec
// 4.4 step 3: "If s == 1, drop the transition, promote end to the
// current state").
func (s *State) Compile(now time.Time) Component {
	if s.from == nil {
		return s.current
	}
	progress, done := s.tr.progress(now)
	if done {
		s.from = nil
		return s.current
	}
	return interpolate(*s.from, s.current, progress)
}

// interpolate matches end's children against start by ComponentId
// first, then by Tiles positional equivalence, and falls back to
// end's own attributes (snap-in) for anything unmatched, per spec 4.4
// step 2.
func interpolate(start, end Component, s float64) Component {
	out := end
	matched, ok := findCounterpart(start, end)
	if ok {
		out.Attrs = matched.Attrs.Lerp(end.Attrs, s)
	}

	if len(end.Children) > 0 {
		startChildren := matched.Children
		out.Children = make([]Component, len(end.Children))
		for i, child := range end.Children {
			counterpart, found := findChildCounterpart(startChildren, child, end.Kind)
			if found {
				out.Children[i] = interpolate(counterpart, child, s)
			} else {
				out.Children[i] = child
			}
		}
	}

	return out
}

// findCounterpart locates end's own match within start: by
// ComponentId when end has one, otherwise start itself is assumed to
// be the counterpart (interpolate is only called with aligned roots).
func findCounterpart(start, end Component) (Component, bool) {
	if end.Id != "" && start.Id == end.Id {
		return start, true
	}
	if end.Id == "" {
		return start, true
	}
	return Component{}, false
}

// findChildCounterpart matches one of end's children against start's
// children: ComponentId first, then (for Tiles parents only)
// positional equivalence within the tolerance spec 4.4 defines.
func findChildCounterpart(startChildren []Component, end Component, parentKind Kind) (Component, bool) {
	if end.Id != "" {
		for _, c := range startChildren {
			if c.Id == end.Id {
				return c, true
			}
		}
		return Component{}, false
	}

	if parentKind == KindTiles {
		for _, c := range startChildren {
			if c.Id == "" && sameRect(c.Attrs.Position, end.Attrs.Position) {
				return c, true
			}
		}
	}

	return Component{}, false
}
