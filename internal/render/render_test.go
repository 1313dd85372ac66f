package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/smelter-run/smelter/internal/scene"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

func solidFrame(w, h int, y, u, v byte) media.Frame {
	yPlane := make([]byte, w*h)
	for i := range yPlane {
		yPlane[i] = y
	}
	cw, ch := (w+1)/2, (h+1)/2
	uPlane := make([]byte, cw*ch)
	vPlane := make([]byte, cw*ch)
	for i := range uPlane {
		uPlane[i] = u
		vPlane[i] = v
	}
	return media.Frame{
		Data: media.FrameData{
			Kind:      media.FrameDataPlanarYUV420,
			YUVPlanes: [3][]byte{yPlane, uPlane, vPlane},
			YUVStride: [3]int{w, cw, cw},
		},
		Resolution: media.Resolution{Width: w, Height: h},
	}
}

func TestYUV420ToRGBAWhiteFrame(t *testing.T) {
	f := solidFrame(2, 2, 255, 128, 128)
	rgba := yuv420ToRGBA(f)
	assert.Equal(t, byte(255), rgba.Pixels[0])
	assert.Equal(t, byte(255), rgba.Pixels[1])
	assert.Equal(t, byte(255), rgba.Pixels[2])
}

func TestLayoutTilesProducesNNonOverlappingCells(t *testing.T) {
	bounds := scene.Rect{X: 0, Y: 0, Width: 100, Height: 100}
	rects := layoutTiles(bounds, 4)
	assert.Len(t, rects, 4)
	for _, r := range rects {
		assert.Greater(t, r.Width, 0.0)
		assert.Greater(t, r.Height, 0.0)
	}
}

func TestLayoutTilesEmptyForZeroChildren(t *testing.T) {
	assert.Nil(t, layoutTiles(scene.Rect{Width: 10, Height: 10}, 0))
}

func TestRenderStaleInputRendersTransparent(t *testing.T) {
	r := New(nil, nil, nil, nil)
	root := scene.Component{
		Kind:    scene.KindInputStream,
		InputId: ids.InputId("missing"),
	}
	frame, err := r.Render(root, map[ids.InputId]media.Frame{}, media.Resolution{Width: 4, Height: 4}, OutputFramePlanarYUV420, 0)
	assert.NoError(t, err)
	assert.Equal(t, media.FrameDataPlanarYUV420, frame.Data.Kind)
}

func TestRenderBlitsMatchedInputStream(t *testing.T) {
	r := New(nil, nil, nil, nil)
	id := ids.InputId("cam-1")
	root := scene.Component{
		Kind:    scene.KindInputStream,
		InputId: id,
		Attrs:   scene.Attributes{Position: scene.Rect{X: 0, Y: 0, Width: 4, Height: 4}, Opacity: 1},
	}
	frames := map[ids.InputId]media.Frame{id: solidFrame(4, 4, 255, 128, 128)}
	frame, err := r.Render(root, frames, media.Resolution{Width: 4, Height: 4}, OutputFramePlanarYUV420, 0)
	assert.NoError(t, err)
	assert.Equal(t, byte(255), frame.Data.YUVPlanes[0][0])
}

func TestRenderUnknownShaderErrors(t *testing.T) {
	r := New(nil, nil, nil, nil)
	root := scene.Component{Kind: scene.KindShader, ShaderName: "missing"}
	_, err := r.Render(root, nil, media.Resolution{Width: 2, Height: 2}, OutputFramePlanarYUV420, 0)
	assert.Error(t, err)
}
