package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// record rebuilds this frame's command buffers from the graph: barriers
// first, then the render pass or dispatch region of every pass in
// submission order.
func (f *VirtualFrame) record(r *Renderer) error {
	f.gInj = Injection{}
	f.cInj = Injection{}
	f.computeInUse = false

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(f.graphicsCmd, &beginInfo); res != vk.Success {
		return vkError(core.ErrSynchronization, res, "vkBeginCommandBuffer")
	}

	for _, p := range r.graph.passes {
		inj, cmd := &f.gInj, f.graphicsCmd
		if p.kind == PassCompute {
			inj, cmd = &f.cInj, f.computeCmd
			if !f.computeInUse {
				if res := vk.BeginCommandBuffer(f.computeCmd, &beginInfo); res != vk.Success {
					return vkError(core.ErrSynchronization, res, "vkBeginCommandBuffer")
				}
				f.computeInUse = true
			}
		}

		p.catchDeps(inj)
		f.emitBarriers(r, p, inj)
		inj.flush(cmd)

		switch {
		case p.kind == PassRender && p.built && len(p.framebuffers) > 0:
			renderArea := vk.Rect2D{
				Extent: vk.Extent2D{Width: p.fbWidth, Height: p.fbHeight},
			}
			beginRenderPass := vk.RenderPassBeginInfo{
				SType:           vk.StructureTypeRenderPassBeginInfo,
				RenderPass:      p.renderPass.RenderPass,
				Framebuffer:     p.Framebuffer(f.imageFor(p)),
				RenderArea:      renderArea,
				ClearValueCount: uint32(len(p.clears)),
				PClearValues:    p.clears,
			}
			vk.CmdBeginRenderPass(cmd, &beginRenderPass, vk.SubpassContentsInline)
			for _, rec := range r.recorders {
				rec.record(cmd, p, f)
			}
			vk.CmdEndRenderPass(cmd)

		case p.kind == PassCompute:
			for _, rec := range r.recorders {
				rec.record(cmd, p, f)
			}
		}

		p.prepareDeps(inj)
	}

	if res := vk.EndCommandBuffer(f.graphicsCmd); res != vk.Success {
		return vkError(core.ErrSynchronization, res, "vkEndCommandBuffer")
	}
	if f.computeInUse {
		if res := vk.EndCommandBuffer(f.computeCmd); res != vk.Success {
			return vkError(core.ErrSynchronization, res, "vkEndCommandBuffer")
		}
	}
	return nil
}

// imageFor resolves the swapchain image index the pass's framebuffer has
// to target this frame.
func (f *VirtualFrame) imageFor(p *Pass) uint32 {
	if p.backing < 0 {
		return 0
	}
	if pos, ok := f.refs[p.backing]; ok && f.syncs[pos].acquired {
		return f.syncs[pos].image
	}
	return 0
}

// emitBarriers injects the transitions a pass needs for consumptions the
// render pass itself cannot transition: shader and transfer accesses,
// everything in compute passes, and attachments whose producer was not
// itself a render pass.
func (f *VirtualFrame) emitBarriers(r *Renderer, p *Pass, inj *Injection) {
	for _, c := range p.consumes {
		if c.prev == nil || c.prevPass == p {
			continue
		}
		producerTransitioned := c.prevPass.kind == PassRender && c.prev.attachmentAccess()
		if c.attachmentAccess() && p.kind == PassRender && producerTransitioned {
			// The producer moved the image into our layout through its
			// final layout, our render pass picks it up via initial.
			continue
		}

		depth := depthStencilRange(c.Range)
		prevDepth := depthStencilRange(c.prev.Range)
		srcStage := accessPipelineStage(c.prev.Mask, c.prev.Stage, prevDepth, c.prevPass.kind == PassCompute)
		dstStage := accessPipelineStage(c.Mask, c.Stage, depth, p.kind == PassCompute)

		// The image sits in the producer's handover layout, which the
		// producing render pass may already have transitioned for us.
		// Reads in a row with no transition left need ordering only.
		if !c.prev.Mask.Writes() && c.prev.final == c.initial {
			inj.execution(srcStage, dstStage)
			continue
		}

		image := r.imageHandleFor(c.Index, f)
		if image == vk.NullImage {
			continue
		}
		inj.barrier(srcStage, dstStage, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       accessFlags(c.prev.Mask, prevDepth),
			DstAccessMask:       accessFlags(c.Mask, depth),
			OldLayout:           c.prev.final,
			NewLayout:           c.initial,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               image,
			SubresourceRange:    mergeRanges(c.prev.Range, c.Range),
		})
	}
}

// submit pushes the recorded buffers to their queues and presents every
// acquired window image.
func (f *VirtualFrame) submit(r *Renderer) error {
	waits := []vk.Semaphore{}
	waitStages := []vk.PipelineStageFlags{}
	signals := []vk.Semaphore{}

	var windows []*Window
	var indices []uint32
	var rendered []vk.Semaphore

	for i := range f.syncs {
		s := &f.syncs[i]
		if !s.acquired {
			continue
		}
		waits = append(waits, s.available)
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
		signals = append(signals, s.rendered)
		windows = append(windows, s.window)
		indices = append(indices, s.image)
		rendered = append(rendered, s.rendered)
		s.acquired = false
	}

	waits = append(waits, f.gInj.waits...)
	waitStages = append(waitStages, f.gInj.waitStages...)
	signals = append(signals, f.gInj.signals...)

	chained := f.computeInUse && r.graph.crossQueue
	if chained {
		signals = append(signals, f.crossSem)
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{f.graphicsCmd},
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	r.ctx.Graphics.Lock()
	res := vk.QueueSubmit(r.ctx.Graphics.Handle, 1, []vk.SubmitInfo{submitInfo}, f.fence)
	r.ctx.Graphics.Unlock()
	if res != vk.Success {
		f.abortDeps(r)
		return vkError(core.ErrSynchronization, res, "vkQueueSubmit")
	}
	f.submitted = true

	if err := presentWindows(&r.ctx.Graphics, windows, indices, rendered); err != nil {
		return err
	}

	if f.computeInUse {
		cWaits := append([]vk.Semaphore{}, f.cInj.waits...)
		cStages := append([]vk.PipelineStageFlags{}, f.cInj.waitStages...)
		if chained {
			cWaits = append(cWaits, f.crossSem)
			cStages = append(cStages, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))
		}
		computeSubmit := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(cWaits)),
			PWaitSemaphores:      cWaits,
			PWaitDstStageMask:    cStages,
			CommandBufferCount:   1,
			PCommandBuffers:      []vk.CommandBuffer{f.computeCmd},
			SignalSemaphoreCount: uint32(len(f.cInj.signals)),
			PSignalSemaphores:    f.cInj.signals,
		}
		r.ctx.Compute.Lock()
		res = vk.QueueSubmit(r.ctx.Compute.Handle, 1, []vk.SubmitInfo{computeSubmit}, f.computeFence)
		r.ctx.Compute.Unlock()
		if res != vk.Success {
			f.abortDeps(r)
			return vkError(core.ErrSynchronization, res, "vkQueueSubmit")
		}
	}

	for _, p := range r.graph.passes {
		p.finishDeps()
	}
	return nil
}

func (f *VirtualFrame) abortDeps(r *Renderer) {
	for _, p := range r.graph.passes {
		p.abortDeps()
	}
}
