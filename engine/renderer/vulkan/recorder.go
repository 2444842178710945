package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/helix/engine/core"
)

// RecordCallback emits commands for one pass into the frame's command
// buffer. For render passes the buffer is inside the render pass.
type RecordCallback func(cmd vk.CommandBuffer, pass *Pass, frame *VirtualFrame)

// Recorder is the per-thread recording handle. It owns a descriptor
// subordinate plus one transient command pool per virtual frame for
// secondary buffers, and carries the draw callbacks per pass.
type Recorder struct {
	ID string

	renderer  *Renderer
	sub       *PoolSub
	pools     []vk.CommandPool
	callbacks map[*Pass][]RecordCallback
}

// NewRecorder registers a recording handle with the renderer. One per
// thread that records.
func (r *Renderer) NewRecorder() (*Recorder, error) {
	rec := &Recorder{
		ID:        uuid.New().String(),
		renderer:  r,
		sub:       r.pool.Subordinate(),
		callbacks: make(map[*Pass][]RecordCallback),
	}

	rec.pools = make([]vk.CommandPool, len(r.frames))
	for i := range rec.pools {
		poolInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: r.ctx.Graphics.Family,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		}
		if res := vk.CreateCommandPool(r.ctx.Device, &poolInfo, r.ctx.Allocator, &rec.pools[i]); res != vk.Success {
			rec.destroy(r)
			return nil, vkError(core.ErrCreation, res, "vkCreateCommandPool")
		}
	}

	r.recorders = append(r.recorders, rec)
	return rec, nil
}

// OnRecord appends a draw callback for a pass. Callbacks run in
// registration order across recorders.
func (rec *Recorder) OnRecord(p *Pass, cb RecordCallback) {
	rec.callbacks[p] = append(rec.callbacks[p], cb)
}

// Descriptors returns the recorder's descriptor subordinate.
func (rec *Recorder) Descriptors() *PoolSub { return rec.sub }

// Secondary allocates a transient secondary command buffer valid for the
// current virtual frame only.
func (rec *Recorder) Secondary(frame *VirtualFrame) (vk.CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        rec.pools[frame.index],
		Level:              vk.CommandBufferLevelSecondary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(rec.renderer.ctx.Device, &allocInfo, buffers); res != vk.Success {
		return nil, vkError(core.ErrAllocation, res, "vkAllocateCommandBuffers")
	}
	return buffers[0], nil
}

// reset recycles the transient pool of a virtual frame that just
// retired.
func (rec *Recorder) reset(frameIndex int) {
	vk.ResetCommandPool(rec.renderer.ctx.Device, rec.pools[frameIndex], 0)
}

func (rec *Recorder) record(cmd vk.CommandBuffer, p *Pass, f *VirtualFrame) {
	for _, cb := range rec.callbacks[p] {
		cb(cmd, p, f)
	}
}

func (rec *Recorder) destroy(r *Renderer) {
	for _, pool := range rec.pools {
		if pool != vk.NullCommandPool {
			vk.DestroyCommandPool(r.ctx.Device, pool, r.ctx.Allocator)
		}
	}
	rec.pools = nil
	if rec.sub != nil {
		r.pool.Unsub(rec.sub)
		rec.sub = nil
	}
}

// Destroy unregisters the recorder. The device must be idle for its
// frame pools.
func (rec *Recorder) Destroy() {
	r := rec.renderer
	for i, cand := range r.recorders {
		if cand == rec {
			r.recorders = append(r.recorders[:i], r.recorders[i+1:]...)
			break
		}
	}
	rec.destroy(r)
}
