package registry

import (
	"fmt"
	"sync"

	"github.com/smelter-run/smelter/internal/render"
)

// assetStore is the in-memory render.AssetProvider backing
// RegisterImage/UnregisterImage: decoding and on-disk caching of the
// original image/WebView source is an external collaborator's job
// (spec 1's "on-disk asset downloading" Non-goal), so this only holds
// already-decoded RGBA bytes keyed by RendererId.
type assetStore struct {
	mu     sync.RWMutex
	assets map[string]render.RGBA
}

func newAssetStore() *assetStore {
	return &assetStore{assets: make(map[string]render.RGBA)}
}

func (a *assetStore) put(id string, img render.RGBA) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[id] = img
}

func (a *assetStore) remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assets, id)
}

// Resolve implements render.AssetProvider.
func (a *assetStore) Resolve(assetId string) (render.RGBA, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	img, ok := a.assets[assetId]
	if !ok {
		return render.RGBA{}, fmt.Errorf("resolve asset %s: not registered", assetId)
	}
	return img, nil
}

// FontSource is the byte payload for spec 6.1's register_font(Source):
// actual font parsing/shaping is an external collaborator's job (the
// same "out of core scope" boundary as the GPU context and the web
// renderer), so the registry only holds the raw bytes and hands them
// to whatever TextRasterizer the caller supplied at New.
type FontSource struct {
	Data []byte
}

// fontStore holds registered font bytes, keyed by insertion order
// since spec 6.1's register_font carries no font_id of its own (unlike
// register_image/register_shader). Multiple fonts accumulate; the
// TextRasterizer collaborator is responsible for picking among them.
type fontStore struct {
	mu    sync.Mutex
	fonts []FontSource
}

func newFontStore() *fontStore {
	return &fontStore{}
}

func (f *fontStore) add(src FontSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fonts = append(f.fonts, src)
}

// All returns a snapshot of every registered font's bytes.
func (f *fontStore) All() []FontSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FontSource, len(f.fonts))
	copy(out, f.fonts)
	return out
}
