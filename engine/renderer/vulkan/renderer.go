package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

type attachmentKind int

const (
	attachEmpty attachmentKind = iota
	attachImage
	attachWindow
)

// attachment is one slot of the renderer's attachment table, backed
// either by a renderer-owned image or by a window swapchain.
type attachment struct {
	kind   attachmentKind
	desc   AttachmentDesc
	image  *VulkanImage
	window *Window
}

func (a *attachment) format() vk.Format {
	if a.kind == attachWindow {
		return a.window.Format()
	}
	return a.desc.Format
}

func (a *attachment) samples() vk.SampleCountFlagBits {
	if a.kind == attachImage && a.desc.Samples != 0 {
		return a.desc.Samples
	}
	return vk.SampleCount1Bit
}

func (a *attachment) extent() (uint32, uint32) {
	if a.kind == attachWindow {
		return a.window.Extent()
	}
	return a.desc.Width, a.desc.Height
}

func (a *attachment) layers() uint32 {
	if a.kind == attachWindow {
		return 1
	}
	return Max(a.desc.Layers, 1)
}

// deviceOps funnels the device calls of pass building through one spot.
type deviceOps struct {
	createImageView    func(info *vk.ImageViewCreateInfo) (vk.ImageView, error)
	destroyImageView   func(view vk.ImageView)
	createFramebuffer  func(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error)
	destroyFramebuffer func(fb vk.Framebuffer)
}

// Renderer owns a render graph, the virtual frame ring that executes it
// and the caches that back it.
//
// Graph mutation (attach, pass setup) and the frame loop belong to one
// goroutine; recorders may prepare descriptor sets from other goroutines
// between Acquire and Submit.
type Renderer struct {
	ctx   *VulkanContext
	cache *ObjectCache
	pool  *DescriptorPool

	graph       renderGraph
	attachments []*attachment

	frames       []*VirtualFrame
	current      int
	frameCounter uint64

	recorders []*Recorder
	stale     graveyard

	ops deviceOps
}

type RendererOptions struct {
	// Virtual frames in flight, minimum 1.
	Frames int
	// Flushes an unused descriptor set survives, see NewDescriptorPool.
	DescriptorFlushes uint32
}

// NewRenderer creates a renderer with its caches and frame ring.
func NewRenderer(ctx *VulkanContext, options RendererOptions) (*Renderer, error) {
	frames := Max(options.Frames, 1)

	cache, err := NewObjectCache(ctx)
	if err != nil {
		return nil, err
	}

	r := &Renderer{
		ctx:   ctx,
		cache: cache,
		pool:  NewDescriptorPool(ctx, options.DescriptorFlushes),
	}
	r.ops = deviceOps{
		createImageView: func(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
			var view vk.ImageView
			if res := vk.CreateImageView(ctx.Device, info, ctx.Allocator, &view); res != vk.Success {
				return vk.NullImageView, vkError(core.ErrCreation, res, "vkCreateImageView")
			}
			return view, nil
		},
		destroyImageView: func(view vk.ImageView) {
			vk.DestroyImageView(ctx.Device, view, ctx.Allocator)
		},
		createFramebuffer: func(info *vk.FramebufferCreateInfo) (vk.Framebuffer, error) {
			var fb vk.Framebuffer
			if res := vk.CreateFramebuffer(ctx.Device, info, ctx.Allocator, &fb); res != vk.Success {
				return vk.NullFramebuffer, vkError(core.ErrCreation, res, "vkCreateFramebuffer")
			}
			return fb, nil
		},
		destroyFramebuffer: func(fb vk.Framebuffer) {
			vk.DestroyFramebuffer(ctx.Device, fb, ctx.Allocator)
		},
	}

	for i := 0; i < frames; i++ {
		f, err := newVirtualFrame(r, i)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.frames = append(r.frames, f)
	}
	core.LogInfo("Renderer created with %d virtual frames", frames)
	return r, nil
}

// Destroy tears the renderer down, idling the device first.
func (r *Renderer) Destroy() {
	r.ctx.WaitIdle()

	r.graph.destruct(r)
	r.stale.flush()

	for _, f := range r.frames {
		f.clear(r)
	}
	r.frames = nil

	for _, rec := range r.recorders {
		rec.destroy(r)
	}
	r.recorders = nil

	for i := range r.attachments {
		r.freeAttachment(i)
	}
	r.attachments = nil

	r.pool.Destroy()
	r.cache.Destroy()
}

func (r *Renderer) attachmentAt(index int) *attachment {
	if index < 0 || index >= len(r.attachments) || r.attachments[index] == nil {
		return nil
	}
	if r.attachments[index].kind == attachEmpty {
		return nil
	}
	return r.attachments[index]
}

func (r *Renderer) growAttachments(index int) {
	for len(r.attachments) <= index {
		r.attachments = append(r.attachments, &attachment{kind: attachEmpty})
	}
}

func (r *Renderer) freeAttachment(index int) {
	at := r.attachments[index]
	if at == nil {
		return
	}
	switch at.kind {
	case attachImage:
		if at.image != nil {
			at.image.ImageDestroy(r.ctx)
			at.image = nil
		}
	case attachWindow:
		at.window.release()
		at.window = nil
	}
	at.kind = attachEmpty
}

// detach empties an attachment slot after quiescing everything that may
// reference it.
func (r *Renderer) detach(index int) error {
	at := r.attachmentAt(index)
	if at == nil {
		return nil
	}
	if err := r.syncFrames(); err != nil {
		return err
	}
	for _, p := range r.graph.passes {
		if p.consumption(index) != nil {
			p.destructPartial(r, FlagRecreateAll)
		}
	}
	r.graph.invalidate()
	r.freeAttachment(index)
	return nil
}

// AttachImage backs attachment index with a renderer-owned image.
func (r *Renderer) AttachImage(index int, desc AttachmentDesc) error {
	if index < 0 {
		return fmt.Errorf("%w: negative attachment index", core.ErrCreation)
	}
	r.growAttachments(index)
	if err := r.detach(index); err != nil {
		return err
	}

	image, err := ImageCreate(r.ctx, desc)
	if err != nil {
		return err
	}
	at := r.attachments[index]
	at.kind = attachImage
	at.desc = desc
	at.image = image
	r.graph.invalidate()
	return nil
}

// AttachWindow backs attachment index with a window's swapchain. A nil
// window detaches the slot. A window can back one attachment of one
// renderer at a time.
func (r *Renderer) AttachWindow(index int, w *Window) error {
	if index < 0 {
		return fmt.Errorf("%w: negative attachment index", core.ErrCreation)
	}
	r.growAttachments(index)
	if err := r.detach(index); err != nil {
		return err
	}
	if w == nil {
		return nil
	}
	if !w.claim() {
		return fmt.Errorf("%w: window is already attached", core.ErrCreation)
	}

	at := r.attachments[index]
	at.kind = attachWindow
	at.window = w
	r.graph.invalidate()
	return nil
}

// Detach empties an attachment slot.
func (r *Renderer) Detach(index int) error {
	if r.attachmentAt(index) == nil {
		return nil
	}
	return r.detach(index)
}

// AddPass appends a pass to the graph, ordered after its parents. All
// render passes of a frame are submitted before its compute passes, so a
// render pass cannot depend on a compute pass.
func (r *Renderer) AddPass(kind PassKind, parents ...*Pass) (*Pass, error) {
	if kind == PassRender {
		for _, parent := range parents {
			if parent.kind == PassCompute {
				return nil, fmt.Errorf("%w: a render pass cannot have a compute parent", core.ErrCreation)
			}
		}
	}
	p := &Pass{
		renderer: r,
		kind:     kind,
		parents:  parents,
		backing:  -1,
	}
	r.graph.add(p)
	return p, nil
}

// targets returns the passes no other pass depends on, in submission
// order. These are the sinks of the graph.
func (r *Renderer) targets() []*Pass {
	isParent := map[*Pass]bool{}
	for _, p := range r.graph.passes {
		for _, parent := range p.parents {
			isParent[parent] = true
		}
	}
	var out []*Pass
	for _, p := range r.graph.passes {
		if !isParent[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Renderer) NumTargets() int { return len(r.targets()) }

func (r *Renderer) Target(i int) *Pass { return r.targets()[i] }

// RemovePass takes a pass out of the graph and destroys its built state.
func (r *Renderer) RemovePass(p *Pass) error {
	if err := r.syncFrames(); err != nil {
		return err
	}
	r.graph.remove(p)
	p.destruct(r)
	return nil
}

// Warmup builds every render pass object ahead of the first frame, for
// use behind load screens together with pipeline warmup.
func (r *Renderer) Warmup() error {
	return r.graph.warmup(r)
}

// Cache exposes the object cache for pipeline and layout construction.
func (r *Renderer) Cache() *ObjectCache { return r.cache }

// Descriptors exposes the descriptor pool for maintenance operations.
func (r *Renderer) Descriptors() *DescriptorPool { return r.pool }

// Context returns the context the renderer was created on.
func (r *Renderer) Context() *VulkanContext { return r.ctx }

// imageHandleFor resolves the Vulkan image currently backing an
// attachment, honoring the frame's acquired swapchain index.
func (r *Renderer) imageHandleFor(index int, f *VirtualFrame) vk.Image {
	at := r.attachmentAt(index)
	if at == nil {
		return vk.NullImage
	}
	switch at.kind {
	case attachImage:
		return at.image.Handle
	case attachWindow:
		images := at.window.images
		pos, ok := f.refs[index]
		if !ok || int(f.syncs[pos].image) >= len(images) {
			return vk.NullImage
		}
		return images[f.syncs[pos].image]
	}
	return vk.NullImage
}

// syncFrames blocks until every virtual frame retired.
func (r *Renderer) syncFrames() error {
	for _, f := range r.frames {
		if err := f.sync(r, false); err != nil {
			return err
		}
	}
	return nil
}

// Acquire opens the next virtual frame: it waits for the slot to retire,
// acquires every window image and makes sure the graph is built. Between
// Acquire and Submit the frame's descriptor sets may be prepared.
func (r *Renderer) Acquire() (*VirtualFrame, error) {
	f := r.frames[r.current]
	if err := f.sync(r, true); err != nil {
		return nil, err
	}
	if err := f.acquire(r); err != nil {
		return nil, err
	}
	return f, nil
}

// Submit records and submits the frame, presents its window images and
// flushes the caches. The frame handle is dead afterwards.
func (r *Renderer) Submit(f *VirtualFrame) error {
	if f != r.frames[r.current] {
		return fmt.Errorf("%w: frame submitted out of order", core.ErrSynchronization)
	}
	if err := f.record(r); err != nil {
		return err
	}
	if err := f.submit(r); err != nil {
		return err
	}

	r.cache.Flush()
	r.pool.Flush()

	r.frameCounter++
	r.collectStale()
	r.current = (r.current + 1) % len(r.frames)
	return nil
}
