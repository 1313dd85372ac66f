// Package render compiles a scene.Component tree plus a queue.FrameSet
// into output Frames, per spec 4.4. The CPU-optimized path (YUV<->RGBA
// conversion, layout, alpha compositing) is implemented directly;
// GPU-backed texture variants and the Text/Image/WebView leaf kinds
// delegate to small interfaces the caller supplies, since actual GPU
// submission, font rasterization, and the embedded web renderer are
// explicitly out of core scope (spec 1's "Explicitly out of scope").
// Grounded on original_source/compositor_render's input_texture/
// output_texture conversion steps and base_params.rs's uniform
// schema, since the teacher has no rendering code at all.
package render

import (
	"fmt"

	"github.com/smelter-run/smelter/internal/pipelinectx"
	"github.com/smelter-run/smelter/internal/scene"
	"github.com/smelter-run/smelter/pkg/ids"
	"github.com/smelter-run/smelter/pkg/media"
)

// OutputFrameFormat is the closed set of output encodings spec 4.4
// names.
type OutputFrameFormat int

const (
	OutputFramePlanarYUV420 OutputFrameFormat = iota
	OutputFrameRGBATexture
)

// RGBA is an internal working-format frame: straight-alpha RGBA8,
// row-major, stride == Width*4.
type RGBA struct {
	Pixels []byte
	Width  int
	Height int
}

func newRGBA(w, h int) RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return RGBA{Pixels: make([]byte, w*h*4), Width: w, Height: h}
}

// ShaderUniforms is the fixed uniform schema every Shader component
// invocation receives, verbatim from
// original_source/compositor_render/src/transformations/shader/base_params.rs.
type ShaderUniforms struct {
	PlaneId          int
	TimeSeconds      float64
	OutputResolution media.Resolution
	TextureCount     int
}

// ShaderFunc is a user-supplied WGSL-equivalent transform: given the
// bound input textures and the fixed uniforms, produce an output
// frame of the requested resolution. The real WGSL execution path
// lives behind the GraphicsContext in production; this is the typed
// seam the core calls through.
type ShaderFunc func(inputs []RGBA, uniforms ShaderUniforms) RGBA

// TextRasterizer rasterises a glyph run into a coverage-weighted RGBA
// block, standing in for the core's actual font/shaping collaborator
// (out of core scope per spec 1).
type TextRasterizer interface {
	Rasterize(text string, resolution media.Resolution) RGBA
}

// AssetProvider resolves a cached Image or WebView asset to its
// current RGBA contents.
type AssetProvider interface {
	Resolve(assetId string) (RGBA, error)
}

// Renderer compiles scene trees against a FrameSet into output
// frames.
type Renderer struct {
	ctx        *pipelinectx.Context
	shaders    map[string]ShaderFunc
	rasterizer TextRasterizer
	assets     AssetProvider
}

// New constructs a Renderer. shaders, rasterizer, and assets may be
// nil. Text and Image components with no rasterizer, no asset store or
// a missing asset render nothing (transparent) without an error; a
// Shader component whose shader is not registered (always the case
// with nil shaders) makes Render return an error.
func New(ctx *pipelinectx.Context, shaders map[string]ShaderFunc, rasterizer TextRasterizer, assets AssetProvider) *Renderer {
	return &Renderer{ctx: ctx, shaders: shaders, rasterizer: rasterizer, assets: assets}
}

// Render compiles root against frames into one output Frame at the
// given resolution and format. Stale InputId references (inputs named
// in the scene but absent from frames) render as transparent
// fallback, per spec 3's invariant, not an error.
func (r *Renderer) Render(root scene.Component, frames map[ids.InputId]media.Frame, resolution media.Resolution, format OutputFrameFormat, timeSeconds float64) (media.Frame, error) {
	canvas := newRGBA(resolution.Width, resolution.Height)
	viewport := scene.Rect{X: 0, Y: 0, Width: float64(resolution.Width), Height: float64(resolution.Height)}

	if err := r.compileNode(root, viewport, frames, resolution, timeSeconds, &canvas); err != nil {
		return media.Frame{}, err
	}

	data, err := r.encode(canvas, format)
	if err != nil {
		return media.Frame{}, err
	}
	return media.Frame{Data: data, PTS: 0, Resolution: resolution}, nil
}

func (r *Renderer) compileNode(c scene.Component, viewport scene.Rect, frames map[ids.InputId]media.Frame, outRes media.Resolution, timeSeconds float64, canvas *RGBA) error {
	rect := c.Attrs.Position
	if rect == (scene.Rect{}) {
		rect = viewport
	}

	switch c.Kind {
	case scene.KindInputStream:
		frame, ok := frames[c.InputId]
		if !ok {
			return nil // transparent fallback: leave canvas untouched
		}
		src, err := frameToRGBA(frame)
		if err != nil {
			return err
		}
		blit(canvas, src, rect, c.Attrs.Opacity)
		return nil

	case scene.KindView, scene.KindRescaler:
		for _, child := range c.Children {
			if err := r.compileNode(child, rect, frames, outRes, timeSeconds, canvas); err != nil {
				return err
			}
		}
		return nil

	case scene.KindTiles:
		tiles := layoutTiles(rect, len(c.Children))
		for i, child := range c.Children {
			if err := r.compileNode(child, tiles[i], frames, outRes, timeSeconds, canvas); err != nil {
				return err
			}
		}
		return nil

	case scene.KindShader:
		fn, ok := r.shaders[c.ShaderName]
		if !ok {
			return fmt.Errorf("render: unknown shader %q", c.ShaderName)
		}
		inputs := make([]RGBA, 0, len(c.Children))
		for _, child := range c.Children {
			if child.Kind == scene.KindInputStream {
				if frame, ok := frames[child.InputId]; ok {
					rgba, err := frameToRGBA(frame)
					if err == nil {
						inputs = append(inputs, rgba)
					}
				}
			}
		}
		out := fn(inputs, ShaderUniforms{TimeSeconds: timeSeconds, OutputResolution: outRes, TextureCount: len(inputs)})
		blit(canvas, out, rect, c.Attrs.Opacity)
		return nil

	case scene.KindText:
		if r.rasterizer == nil {
			return nil
		}
		res := media.Resolution{Width: int(rect.Width), Height: int(rect.Height)}
		blit(canvas, r.rasterizer.Rasterize(c.Text, res), rect, c.Attrs.Opacity)
		return nil

	case scene.KindImage, scene.KindWebView:
		if r.assets == nil {
			return nil
		}
		asset, err := r.assets.Resolve(c.AssetId)
		if err != nil {
			return nil // missing asset renders as transparent, not fatal
		}
		blit(canvas, asset, rect, c.Attrs.Opacity)
		return nil

	default:
		return fmt.Errorf("render: unsupported component kind %v", c.Kind)
	}
}

func layoutTiles(bounds scene.Rect, n int) []scene.Rect {
	if n == 0 {
		return nil
	}
	cols := 1
	for cols*cols < n {
		cols++
	}
	rows := (n + cols - 1) / cols
	cellW := bounds.Width / float64(cols)
	cellH := bounds.Height / float64(rows)

	rects := make([]scene.Rect, n)
	for i := 0; i < n; i++ {
		row := i / cols
		col := i % cols
		rects[i] = scene.Rect{
			X:      bounds.X + float64(col)*cellW,
			Y:      bounds.Y + float64(row)*cellH,
			Width:  cellW,
			Height: cellH,
		}
	}
	return rects
}

// blit alpha-composites src over dst within the given destination
// rect, nearest-neighbour sampled, scaled by opacity.
func blit(dst *RGBA, src RGBA, rect scene.Rect, opacity float64) {
	if src.Width == 0 || src.Height == 0 {
		return
	}
	x0, y0 := int(rect.X), int(rect.Y)
	w, h := int(rect.Width), int(rect.Height)
	if w <= 0 || h <= 0 {
		return
	}

	for y := 0; y < h; y++ {
		dy := y0 + y
		if dy < 0 || dy >= dst.Height {
			continue
		}
		sy := y * src.Height / h
		for x := 0; x < w; x++ {
			dx := x0 + x
			if dx < 0 || dx >= dst.Width {
				continue
			}
			sx := x * src.Width / w
			si := (sy*src.Width + sx) * 4
			di := (dy*dst.Width + dx) * 4

			srcA := float64(src.Pixels[si+3]) / 255 * opacity
			for c := 0; c < 3; c++ {
				s := float64(src.Pixels[si+c])
				d := float64(dst.Pixels[di+c])
				dst.Pixels[di+c] = byte(s*srcA + d*(1-srcA))
			}
			dst.Pixels[di+3] = byte(clampByte(float64(dst.Pixels[di+3]) + srcA*255))
		}
	}
}

func clampByte(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// frameToRGBA converts a decoded Frame into the internal RGBA working
// format, per original_source's input_texture conversion step. GPU
// texture variants are out of the CPU path's reach here: a production
// CPU-optimized context never receives them (the graphics context
// picks the matching decoder output), so encountering one is an error.
func frameToRGBA(f media.Frame) (RGBA, error) {
	switch f.Data.Kind {
	case media.FrameDataPlanarYUV420:
		return yuv420ToRGBA(f), nil
	default:
		return RGBA{}, fmt.Errorf("render: frame data kind %v requires the GPU-optimized path", f.Data.Kind)
	}
}

// yuv420ToRGBA applies BT.601 full-range YUV->RGB conversion.
func yuv420ToRGBA(f media.Frame) RGBA {
	w, h := f.Resolution.Width, f.Resolution.Height
	out := newRGBA(w, h)
	y, u, v := f.Data.YUVPlanes[0], f.Data.YUVPlanes[1], f.Data.YUVPlanes[2]
	ys, us, vs := f.Data.YUVStride[0], f.Data.YUVStride[1], f.Data.YUVStride[2]
	if ys == 0 {
		ys = w
	}
	if us == 0 {
		us = (w + 1) / 2
	}
	if vs == 0 {
		vs = (w + 1) / 2
	}

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			yi := row*ys + col
			ui := (row/2)*us + col/2
			vi := (row/2)*vs + col/2
			if yi >= len(y) || ui >= len(u) || vi >= len(v) {
				continue
			}
			Y := float64(y[yi])
			U := float64(u[ui]) - 128
			V := float64(v[vi]) - 128

			r := Y + 1.402*V
			g := Y - 0.344136*U - 0.714136*V
			b := Y + 1.772*U

			oi := (row*w + col) * 4
			out.Pixels[oi] = byte(clampByte(r))
			out.Pixels[oi+1] = byte(clampByte(g))
			out.Pixels[oi+2] = byte(clampByte(b))
			out.Pixels[oi+3] = 255
		}
	}
	return out
}

// encode converts the composited canvas into the output's declared
// format.
func (r *Renderer) encode(canvas RGBA, format OutputFrameFormat) (media.FrameData, error) {
	switch format {
	case OutputFrameRGBATexture:
		return media.FrameData{Kind: media.FrameDataRGBA8Texture, Texture: canvas}, nil
	case OutputFramePlanarYUV420:
		return rgbaToYUV420(canvas), nil
	default:
		return media.FrameData{}, fmt.Errorf("render: unsupported output frame format %v", format)
	}
}

func rgbaToYUV420(src RGBA) media.FrameData {
	w, h := src.Width, src.Height
	yPlane := make([]byte, w*h)
	cw, ch := (w+1)/2, (h+1)/2
	uPlane := make([]byte, cw*ch)
	vPlane := make([]byte, cw*ch)

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			i := (row*w + col) * 4
			R, G, B := float64(src.Pixels[i]), float64(src.Pixels[i+1]), float64(src.Pixels[i+2])
			Y := 0.299*R + 0.587*G + 0.114*B
			yPlane[row*w+col] = byte(clampByte(Y))

			if row%2 == 0 && col%2 == 0 {
				U := -0.168736*R - 0.331264*G + 0.5*B + 128
				V := 0.5*R - 0.418688*G - 0.081312*B + 128
				ci := (row/2)*cw + col/2
				uPlane[ci] = byte(clampByte(U))
				vPlane[ci] = byte(clampByte(V))
			}
		}
	}

	return media.FrameData{
		Kind:      media.FrameDataPlanarYUV420,
		YUVPlanes: [3][]byte{yPlane, uPlane, vPlane},
		YUVStride: [3]int{w, cw, cw},
	}
}
