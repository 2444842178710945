package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// The graveyard holds resources that were replaced while frames that may
// still reference them are in flight. Entries are tagged with the frame
// counter at push time and freed once every frame alive back then has
// retired.
type staleEntry struct {
	free   func()
	pushed uint64
}

type graveyard struct {
	mu      sync.Mutex
	entries []staleEntry
}

func (g *graveyard) push(counter uint64, free func()) {
	g.mu.Lock()
	g.entries = append(g.entries, staleEntry{free: free, pushed: counter})
	g.mu.Unlock()
}

// collect frees every entry pushed before the oldest frame still in
// flight.
func (g *graveyard) collect(oldestInFlight uint64) {
	g.mu.Lock()
	kept := g.entries[:0]
	for _, e := range g.entries {
		if e.pushed < oldestInFlight {
			e.free()
		} else {
			kept = append(kept, e)
		}
	}
	g.entries = kept
	g.mu.Unlock()
}

// flush frees everything unconditionally, the caller must have idled the
// device.
func (g *graveyard) flush() {
	g.mu.Lock()
	for _, e := range g.entries {
		e.free()
	}
	g.entries = nil
	g.mu.Unlock()
}

func (r *Renderer) pushStaleFramebuffer(fb vk.Framebuffer) {
	if fb == vk.NullFramebuffer {
		return
	}
	r.stale.push(r.frameCounter, func() { r.ops.destroyFramebuffer(fb) })
}

func (r *Renderer) pushStaleImageView(view vk.ImageView) {
	if view == vk.NullImageView {
		return
	}
	r.stale.push(r.frameCounter, func() { r.ops.destroyImageView(view) })
}

// collectStale runs at the end of a submitted frame.
func (r *Renderer) collectStale() {
	frames := uint64(len(r.frames))
	if r.frameCounter < frames {
		return
	}
	r.stale.collect(r.frameCounter - frames)
}
