package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// frameSync carries the per-window synchronization of one virtual frame:
// the acquire semaphore, the render-complete semaphore and the image the
// swapchain handed out this frame.
type frameSync struct {
	index     int // attachment index
	window    *Window
	available vk.Semaphore
	rendered  vk.Semaphore
	image     uint32
	acquired  bool
}

// VirtualFrame is one slot of the frame ring. It owns the command
// buffers and fences of everything submitted under its turn.
type VirtualFrame struct {
	index int

	fence        vk.Fence
	computeFence vk.Fence

	graphicsPool vk.CommandPool
	graphicsCmd  vk.CommandBuffer
	computePool  vk.CommandPool
	computeCmd   vk.CommandBuffer

	// Chains the graphics submission into the compute one when a
	// consumption crosses the queue boundary.
	crossSem vk.Semaphore

	syncs []frameSync
	// attachment index -> position in syncs
	refs map[int]int

	// Synchronization gathered during record, consumed by submit.
	gInj Injection
	cInj Injection

	submitted    bool
	computeInUse bool
}

func newVirtualFrame(r *Renderer, index int) (*VirtualFrame, error) {
	f := &VirtualFrame{index: index, refs: make(map[int]int)}

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	if res := vk.CreateFence(r.ctx.Device, &fenceInfo, r.ctx.Allocator, &f.fence); res != vk.Success {
		return nil, vkError(core.ErrCreation, res, "vkCreateFence")
	}
	if res := vk.CreateFence(r.ctx.Device, &fenceInfo, r.ctx.Allocator, &f.computeFence); res != vk.Success {
		f.clear(r)
		return nil, vkError(core.ErrCreation, res, "vkCreateFence")
	}

	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if res := vk.CreateSemaphore(r.ctx.Device, &semInfo, r.ctx.Allocator, &f.crossSem); res != vk.Success {
		f.clear(r)
		return nil, vkError(core.ErrCreation, res, "vkCreateSemaphore")
	}

	var err error
	if f.graphicsPool, f.graphicsCmd, err = newFrameCommands(r, r.ctx.Graphics.Family); err != nil {
		f.clear(r)
		return nil, err
	}
	if f.computePool, f.computeCmd, err = newFrameCommands(r, r.ctx.Compute.Family); err != nil {
		f.clear(r)
		return nil, err
	}
	return f, nil
}

func newFrameCommands(r *Renderer, family uint32) (vk.CommandPool, vk.CommandBuffer, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(r.ctx.Device, &poolInfo, r.ctx.Allocator, &pool); res != vk.Success {
		return vk.NullCommandPool, nil, vkError(core.ErrCreation, res, "vkCreateCommandPool")
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(r.ctx.Device, &allocInfo, buffers); res != vk.Success {
		vk.DestroyCommandPool(r.ctx.Device, pool, r.ctx.Allocator)
		return vk.NullCommandPool, nil, vkError(core.ErrAllocation, res, "vkAllocateCommandBuffers")
	}
	return pool, buffers[0], nil
}

// clear destroys all frame resources. The frame must be synced first.
func (f *VirtualFrame) clear(r *Renderer) {
	for i := range f.syncs {
		f.destroySyncSlot(r, &f.syncs[i])
	}
	f.syncs = nil
	f.refs = make(map[int]int)

	if f.graphicsPool != vk.NullCommandPool {
		vk.DestroyCommandPool(r.ctx.Device, f.graphicsPool, r.ctx.Allocator)
		f.graphicsPool = vk.NullCommandPool
	}
	if f.computePool != vk.NullCommandPool {
		vk.DestroyCommandPool(r.ctx.Device, f.computePool, r.ctx.Allocator)
		f.computePool = vk.NullCommandPool
	}
	if f.crossSem != vk.NullSemaphore {
		vk.DestroySemaphore(r.ctx.Device, f.crossSem, r.ctx.Allocator)
		f.crossSem = vk.NullSemaphore
	}
	if f.fence != vk.NullFence {
		vk.DestroyFence(r.ctx.Device, f.fence, r.ctx.Allocator)
		f.fence = vk.NullFence
	}
	if f.computeFence != vk.NullFence {
		vk.DestroyFence(r.ctx.Device, f.computeFence, r.ctx.Allocator)
		f.computeFence = vk.NullFence
	}
}

func (f *VirtualFrame) destroySyncSlot(r *Renderer, s *frameSync) {
	if s.available != vk.NullSemaphore {
		vk.DestroySemaphore(r.ctx.Device, s.available, r.ctx.Allocator)
		s.available = vk.NullSemaphore
	}
	if s.rendered != vk.NullSemaphore {
		vk.DestroySemaphore(r.ctx.Device, s.rendered, r.ctx.Allocator)
		s.rendered = vk.NullSemaphore
	}
}

// sync blocks until this frame's previous submission retired, then
// optionally recycles its recording state and re-matches the sync slots
// against the current window attachments.
func (f *VirtualFrame) sync(r *Renderer, reset bool) error {
	if f.submitted {
		fences := []vk.Fence{f.fence}
		if f.computeInUse {
			fences = append(fences, f.computeFence)
		}
		if res := vk.WaitForFences(r.ctx.Device, uint32(len(fences)), fences, vk.True, math.MaxUint64); res != vk.Success {
			return vkError(core.ErrSynchronization, res, "vkWaitForFences")
		}
		if reset {
			if res := vk.ResetFences(r.ctx.Device, uint32(len(fences)), fences); res != vk.Success {
				return vkError(core.ErrSynchronization, res, "vkResetFences")
			}
			f.submitted = false
			f.computeInUse = false
		}
	}

	if reset {
		for _, rec := range r.recorders {
			rec.reset(f.index)
		}
		if err := f.matchSyncs(r); err != nil {
			return err
		}
	}
	return nil
}

// matchSyncs lines the sync slots up with the renderer's current window
// attachments, keeping existing semaphores where the window stayed.
func (f *VirtualFrame) matchSyncs(r *Renderer) error {
	old := f.syncs
	oldRefs := f.refs

	f.syncs = nil
	f.refs = make(map[int]int)

	for i, at := range r.attachments {
		if at == nil || at.kind != attachWindow {
			continue
		}
		if pos, ok := oldRefs[i]; ok && old[pos].window == at.window {
			f.refs[i] = len(f.syncs)
			f.syncs = append(f.syncs, old[pos])
			old[pos].window = nil // mark as moved
			continue
		}

		s := frameSync{index: i, window: at.window}
		semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if res := vk.CreateSemaphore(r.ctx.Device, &semInfo, r.ctx.Allocator, &s.available); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateSemaphore")
		}
		if res := vk.CreateSemaphore(r.ctx.Device, &semInfo, r.ctx.Allocator, &s.rendered); res != vk.Success {
			vk.DestroySemaphore(r.ctx.Device, s.available, r.ctx.Allocator)
			return vkError(core.ErrCreation, res, "vkCreateSemaphore")
		}
		f.refs[i] = len(f.syncs)
		f.syncs = append(f.syncs, s)
	}

	// Anything not carried over belongs to detached windows.
	for i := range old {
		if old[i].window != nil {
			f.destroySyncSlot(r, &old[i])
		}
	}
	return nil
}

// acquire grabs an image from every window attachment and reacts to
// whatever happened to the swapchains since last time.
func (f *VirtualFrame) acquire(r *Renderer) error {
	type pending struct {
		index int
		flags RecreateFlags
	}
	var flagged []pending

	for i := range f.syncs {
		s := &f.syncs[i]
		image, flags, err := s.window.acquire(s.available)
		if err != nil {
			s.acquired = false
			return err
		}
		s.image = image
		s.acquired = true
		if flags != 0 {
			flagged = append(flagged, pending{index: s.index, flags: flags})
		}
	}

	if len(flagged) == 0 {
		return r.graph.build(r)
	}

	// The swapchain changed under us. Quiesce every frame, drop what the
	// flags invalidate and build the graph back up.
	if err := r.syncFrames(); err != nil {
		return err
	}
	var all RecreateFlags
	for _, pf := range flagged {
		all |= pf.flags
	}
	if all&FlagReformat != 0 {
		// Descriptor sets may reference views of the old images.
		r.pool.Reset()
	}
	for _, pf := range flagged {
		if err := r.graph.rebuild(r, pf.index, pf.flags); err != nil {
			return err
		}
	}
	return r.graph.build(r)
}
