package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

type PassKind int

const (
	// PassRender runs on the graphics queue inside a render pass.
	PassRender PassKind = iota
	// PassCompute runs on the compute queue, asynchronously when the
	// hardware has a dedicated family.
	PassCompute
)

// Consumption declares how a pass uses one renderer attachment. At most
// one consumption per attachment index exists on a pass; re-consuming
// overwrites the access but keeps the sidecars.
type Consumption struct {
	Index int
	Mask  AccessMask
	Stage ShaderStage
	Range Range

	// Sidecars, meaningful for attachment accesses of render passes.
	clear   *vk.ClearValue
	blend   *BlendState
	resolve int // target attachment index, -1 when unset

	// Filled in by graph analysis.
	prev     *Consumption
	prevPass *Pass
	layout   vk.ImageLayout
	initial  vk.ImageLayout
	final    vk.ImageLayout
}

// attachmentAccess reports whether the consumption uses the image as a
// framebuffer attachment rather than through descriptors or transfers.
func (c *Consumption) attachmentAccess() bool {
	return c.Mask&(AccessAttachmentRead|AccessAttachmentWrite|AccessAttachmentInput|AccessAttachmentResolve) != 0
}

// Pass is one node of the render graph. Passes are created through the
// renderer and ordered by their parent links.
type Pass struct {
	renderer *Renderer
	kind     PassKind
	parents  []*Pass

	// Culling/ordering metadata. The level is one more than the deepest
	// parent, order is the position in the submission order.
	level uint32
	order int

	// Bumped whenever the pass has to be built from scratch again, so
	// recordings always validate against the current incarnation.
	gen uint64

	consumes []*Consumption

	// Render state, only for PassRender.
	warmed       bool
	built        bool
	renderPass   *CacheElem
	vfbs         []*Consumption // framebuffer attachments in declaration order
	views        []vk.ImageView // views owned by this pass
	framebuffers []vk.Framebuffer
	clears       []vk.ClearValue
	fbWidth      uint32
	fbHeight     uint32
	fbLayers     uint32
	backing      int // window attachment index, -1 when offscreen

	deps []depInject
}

func (p *Pass) Kind() PassKind { return p.kind }

func (p *Pass) NumParents() int { return len(p.parents) }

func (p *Pass) Parent(i int) *Pass { return p.parents[i] }

// Size returns the framebuffer dimensions of a built render pass, zero
// until the pass is built or for compute passes.
func (p *Pass) Size() (width, height, layers uint32) {
	if !p.built {
		return 0, 0, 0
	}
	return p.fbWidth, p.fbHeight, p.fbLayers
}

// Consume declares or overwrites this pass's access to an attachment.
func (p *Pass) Consume(index int, mask AccessMask, stage ShaderStage, rng Range) {
	for _, c := range p.consumes {
		if c.Index == index {
			c.Mask, c.Stage, c.Range = mask, stage, rng
			p.renderer.graph.invalidate()
			return
		}
	}
	p.consumes = append(p.consumes, &Consumption{
		Index:   index,
		Mask:    mask,
		Stage:   stage,
		Range:   rng,
		resolve: -1,
	})
	p.renderer.graph.invalidate()
}

// Release drops the consumption of an attachment, with its sidecars.
func (p *Pass) Release(index int) {
	for i, c := range p.consumes {
		if c.Index == index {
			p.consumes = append(p.consumes[:i], p.consumes[i+1:]...)
			p.renderer.graph.invalidate()
			return
		}
	}
}

func (p *Pass) consumption(index int) *Consumption {
	for _, c := range p.consumes {
		if c.Index == index {
			return c
		}
	}
	return nil
}

// SetClear sets the clear value used when the attachment is cleared on
// load. Kept when the consumption is overwritten.
func (p *Pass) SetClear(index int, clear vk.ClearValue) {
	if c := p.consumption(index); c != nil {
		c.clear = &clear
		p.renderer.graph.invalidate()
	}
}

// SetBlend sets the blend state sidecar of a color attachment.
func (p *Pass) SetBlend(index int, blend BlendState) {
	if c := p.consumption(index); c != nil {
		c.blend = &blend
		p.renderer.graph.invalidate()
	}
}

// SetResolve routes multisampled output of attachment index into target.
func (p *Pass) SetResolve(index, target int) {
	if c := p.consumption(index); c != nil {
		c.resolve = target
		p.renderer.graph.invalidate()
	}
}

// BlendState resolves the effective blend of a consumption for pipeline
// construction.
func (p *Pass) Blend(index int) (BlendState, bool) {
	if c := p.consumption(index); c != nil && c.blend != nil {
		return *c.blend, true
	}
	return BlendState{}, false
}

// RenderPass returns the Vulkan render pass once the pass is warmed.
func (p *Pass) RenderPass() vk.RenderPass {
	if p.renderPass == nil {
		return vk.NullRenderPass
	}
	return p.renderPass.RenderPass
}

// Framebuffer picks the framebuffer for a swapchain image index.
func (p *Pass) Framebuffer(imageIndex uint32) vk.Framebuffer {
	if len(p.framebuffers) == 0 {
		return vk.NullFramebuffer
	}
	if int(imageIndex) < len(p.framebuffers) {
		return p.framebuffers[imageIndex]
	}
	return p.framebuffers[0]
}

// depthStencilRange reports whether a range selects depth or stencil.
func depthStencilRange(r Range) bool {
	return r.Aspect&(AspectDepth|AspectStencil) != 0
}

// warmup builds the render pass object. Idempotent until the pass is
// invalidated.
func (p *Pass) warmup(r *Renderer) error {
	if p.kind != PassRender || p.warmed {
		return nil
	}

	// The framebuffer attachments, in declaration order. Only one
	// depth/stencil attachment per pass; extras are dropped.
	p.vfbs = p.vfbs[:0]
	p.backing = -1
	haveDepth := false
	for _, c := range p.consumes {
		if !c.attachmentAccess() {
			continue
		}
		if depthStencilRange(c.Range) {
			if haveDepth {
				core.LogWarn("pass already has a depth/stencil attachment, ignoring attachment %d", c.Index)
				continue
			}
			haveDepth = true
		}
		p.vfbs = append(p.vfbs, c)
		if at := r.attachmentAt(c.Index); at != nil && at.kind == attachWindow && p.backing < 0 {
			p.backing = c.Index
		}
	}
	if len(p.vfbs) == 0 {
		p.warmed = true
		return nil
	}

	descs := make([]vk.AttachmentDescription, len(p.vfbs))
	colorRefs := []vk.AttachmentReference{}
	inputRefs := []vk.AttachmentReference{}
	resolveRefs := map[int]uint32{}
	var depthRef *vk.AttachmentReference
	p.clears = p.clears[:0]

	for i, c := range p.vfbs {
		at := r.attachmentAt(c.Index)
		if at == nil {
			return fmt.Errorf("%w: pass consumes unattached index %d", core.ErrCreation, c.Index)
		}
		depth := depthStencilRange(c.Range)

		load := vk.AttachmentLoadOpLoad
		if c.Mask&AccessDiscard != 0 {
			load = vk.AttachmentLoadOpDontCare
		}
		if c.clear != nil {
			load = vk.AttachmentLoadOpClear
		}

		descs[i] = vk.AttachmentDescription{
			Format:         at.format(),
			Samples:        at.samples(),
			LoadOp:         load,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  c.initial,
			FinalLayout:    c.final,
		}
		if c.Range.Aspect&AspectStencil != 0 {
			descs[i].StencilLoadOp = load
			descs[i].StencilStoreOp = vk.AttachmentStoreOpStore
		}

		ref := vk.AttachmentReference{Attachment: uint32(i), Layout: c.layout}
		switch {
		case depth:
			depthRef = &ref
		case c.Mask&AccessAttachmentInput != 0:
			inputRefs = append(inputRefs, ref)
		default:
			colorRefs = append(colorRefs, ref)
		}
		if c.resolve >= 0 {
			resolveRefs[len(colorRefs)-1] = p.vfbIndex(c.resolve)
		}

		var clear vk.ClearValue
		if c.clear != nil {
			clear = *c.clear
		}
		p.clears = append(p.clears, clear)
	}

	var resolves []vk.AttachmentReference
	if len(resolveRefs) > 0 {
		resolves = make([]vk.AttachmentReference, len(colorRefs))
		for i := range resolves {
			resolves[i] = vk.AttachmentReference{Attachment: vk.AttachmentUnused, Layout: vk.ImageLayoutColorAttachmentOptimal}
			if target, ok := resolveRefs[i]; ok {
				resolves[i].Attachment = target
			}
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		InputAttachmentCount:    uint32(len(inputRefs)),
		PInputAttachments:       inputRefs,
		ColorAttachmentCount:    uint32(len(colorRefs)),
		PColorAttachments:       colorRefs,
		PResolveAttachments:     resolves,
		PDepthStencilAttachment: depthRef,
	}

	// One conservative external dependency covers the transition from
	// whatever produced the attachments last.
	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	elem, err := r.cache.Get(&createInfo, nil)
	if err != nil {
		return err
	}
	p.renderPass = elem
	p.warmed = true
	return nil
}

func (p *Pass) vfbIndex(attachmentIndex int) uint32 {
	for i, c := range p.vfbs {
		if c.Index == attachmentIndex {
			return uint32(i)
		}
	}
	return vk.AttachmentUnused
}

// build creates the image views and framebuffers. Requires warmup.
func (p *Pass) build(r *Renderer) error {
	if p.kind != PassRender || p.built {
		return nil
	}
	if err := p.warmup(r); err != nil {
		return err
	}
	if len(p.vfbs) == 0 {
		p.built = true
		return nil
	}

	// Dimensions come from the first attachment; a mismatch or a
	// zero-size backing (minimized window) skips building entirely, the
	// pass is then left out at record time.
	first := r.attachmentAt(p.vfbs[0].Index)
	p.fbWidth, p.fbHeight = first.extent()
	p.fbLayers = first.layers()
	for _, c := range p.vfbs[1:] {
		at := r.attachmentAt(c.Index)
		if w, h := at.extent(); w != p.fbWidth || h != p.fbHeight {
			core.LogWarn("attachment %d is %dx%d, pass framebuffer is %dx%d, skipping pass", c.Index, w, h, p.fbWidth, p.fbHeight)
			p.fbWidth, p.fbHeight, p.fbLayers = 0, 0, 0
			return nil
		}
		if l := at.layers(); l < p.fbLayers {
			p.fbLayers = l
		}
	}
	if p.fbWidth == 0 || p.fbHeight == 0 {
		p.fbWidth, p.fbHeight, p.fbLayers = 0, 0, 0
		return nil
	}

	// One framebuffer per swapchain image when backed by a window,
	// otherwise a single one.
	count := 1
	var backing *attachment
	if p.backing >= 0 {
		backing = r.attachmentAt(p.backing)
		count = backing.window.imageCount()
	}

	// Views for renderer-owned images are shared by every framebuffer.
	shared := make([]vk.ImageView, len(p.vfbs))
	for i, c := range p.vfbs {
		at := r.attachmentAt(c.Index)
		if at.kind != attachImage {
			continue
		}
		viewInfo := vk.ImageViewCreateInfo{
			SType:            vk.StructureTypeImageViewCreateInfo,
			Image:            at.image.Handle,
			ViewType:         vk.ImageViewType2d,
			Format:           at.format(),
			SubresourceRange: rangeToVk(c.Range),
		}
		view, err := r.ops.createImageView(&viewInfo)
		if err != nil {
			p.destructPartial(r, FlagRecreate)
			return err
		}
		shared[i] = view
		p.views = append(p.views, view)
	}

	p.framebuffers = make([]vk.Framebuffer, count)
	for img := 0; img < count; img++ {
		views := make([]vk.ImageView, len(p.vfbs))
		for i, c := range p.vfbs {
			at := r.attachmentAt(c.Index)
			if at.kind == attachWindow {
				views[i] = at.window.Views()[img]
			} else {
				views[i] = shared[i]
			}
		}
		fbInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      p.renderPass.RenderPass,
			AttachmentCount: uint32(len(views)),
			PAttachments:    views,
			Width:           p.fbWidth,
			Height:          p.fbHeight,
			Layers:          Max(p.fbLayers, 1),
		}
		fb, err := r.ops.createFramebuffer(&fbInfo)
		if err != nil {
			p.destructPartial(r, FlagRecreate)
			return err
		}
		p.framebuffers[img] = fb
	}

	p.built = true
	return nil
}

// destructPartial throws away exactly the state invalidated by the given
// recreate flags. Framebuffers and views go to the graveyard because
// in-flight frames may still reference them.
func (p *Pass) destructPartial(r *Renderer, flags RecreateFlags) {
	if flags&FlagRecreate != 0 {
		for _, fb := range p.framebuffers {
			r.pushStaleFramebuffer(fb)
		}
		p.framebuffers = nil
		for _, v := range p.views {
			r.pushStaleImageView(v)
		}
		p.views = nil
		p.built = false
	}
	if flags&FlagReformat != 0 {
		// The render pass keys on formats, a new one is needed. The old
		// elem stays cached for other passes.
		p.renderPass = nil
		p.warmed = false
		p.gen++
	}
	if flags&FlagResize != 0 {
		p.fbWidth, p.fbHeight = 0, 0
	}
}

// destruct drops all built state, used at teardown.
func (p *Pass) destruct(r *Renderer) {
	p.destructPartial(r, FlagRecreateAll)
	p.vfbs = nil
	p.clears = nil
}
