package scene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompileWithNoTransitionReturnsCurrent(t *testing.T) {
	root := Component{Kind: KindView, Attrs: Attributes{Opacity: 1}}
	s := NewState(root)
	out := s.Compile(time.Now())
	assert.Equal(t, root, out)
}

func TestCompilePromotesAfterTransitionCompletes(t *testing.T) {
	start := Component{Kind: KindView, Attrs: Attributes{Opacity: 0}}
	s := NewState(start)

	end := Component{Kind: KindView, Attrs: Attributes{Opacity: 1}}
	begin := time.Now().Add(-time.Hour)
	s.Update(end, Transition{Start: begin, Duration: time.Second, Easing: Linear{}})

	out := s.Compile(time.Now())
	assert.Equal(t, end, out)
	assert.Nil(t, s.from, "transition should be dropped once complete")
}

func TestCompileInterpolatesMidTransition(t *testing.T) {
	start := Component{Kind: KindView, Attrs: Attributes{Opacity: 0}}
	s := NewState(start)

	end := Component{Kind: KindView, Attrs: Attributes{Opacity: 1}}
	begin := time.Now()
	s.Update(end, Transition{Start: begin, Duration: time.Second, Easing: Linear{}})

	out := s.Compile(begin.Add(500 * time.Millisecond))
	assert.InDelta(t, 0.5, out.Attrs.Opacity, 0.05)
}

func TestInterpolateMatchesChildrenByComponentId(t *testing.T) {
	start := Component{
		Kind: KindView,
		Children: []Component{
			{Id: "a", Attrs: Attributes{Opacity: 0}},
		},
	}
	end := Component{
		Kind: KindView,
		Children: []Component{
			{Id: "a", Attrs: Attributes{Opacity: 1}},
		},
	}
	out := interpolate(start, end, 0.5)
	assert.InDelta(t, 0.5, out.Children[0].Attrs.Opacity, 1e-9)
}

func TestInterpolateMatchesTilesChildrenPositionally(t *testing.T) {
	rect := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	start := Component{
		Kind: KindTiles,
		Children: []Component{
			{Attrs: Attributes{Position: rect, Opacity: 0}},
		},
	}
	end := Component{
		Kind: KindTiles,
		Children: []Component{
			{Attrs: Attributes{Position: rect, Opacity: 1}},
		},
	}
	out := interpolate(start, end, 0.5)
	assert.InDelta(t, 0.5, out.Children[0].Attrs.Opacity, 1e-9)
}

func TestInterpolateSnapsInUnmatchedChild(t *testing.T) {
	start := Component{Kind: KindView, Children: []Component{}}
	end := Component{
		Kind: KindView,
		Children: []Component{
			{Id: "new", Attrs: Attributes{Opacity: 1}},
		},
	}
	out := interpolate(start, end, 0.5)
	assert.Equal(t, end.Children[0], out.Children[0])
}
