package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// Dependency is a user-facing synchronization object linking work outside
// the frame loop (uploads, external queues) to passes. A pass either
// waits on it or signals it; the semaphore state machine below keeps a
// signal from being consumed twice.
type Dependency struct {
	ctx       *VulkanContext
	sem       vk.Semaphore
	waitStage vk.PipelineStageFlags

	// pending: signaled but not yet waited on. prepared: queued to be
	// signaled by the frame currently being recorded.
	pending  bool
	prepared bool
}

// NewDependency creates a dependency waiting at the given pipeline stage.
func NewDependency(ctx *VulkanContext, waitStage vk.PipelineStageFlags) (*Dependency, error) {
	d := &Dependency{ctx: ctx, waitStage: waitStage}
	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if res := vk.CreateSemaphore(ctx.Device, &semInfo, ctx.Allocator, &d.sem); res != vk.Success {
		return nil, vkError(core.ErrCreation, res, "vkCreateSemaphore")
	}
	return d, nil
}

// MarkSignaled tells the renderer an external queue signaled the
// semaphore, arming the next frame's wait.
func (d *Dependency) MarkSignaled() { d.pending = true }

func (d *Dependency) Semaphore() vk.Semaphore { return d.sem }

func (d *Dependency) Destroy() {
	if d.sem != vk.NullSemaphore {
		vk.DestroySemaphore(d.ctx.Device, d.sem, d.ctx.Allocator)
		d.sem = vk.NullSemaphore
	}
}

type depInject struct {
	dep    *Dependency
	signal bool
}

// InjectWait makes the pass's submission wait for the dependency, once
// per signal.
func (p *Pass) InjectWait(d *Dependency) {
	p.deps = append(p.deps, depInject{dep: d})
}

// InjectSignal makes the pass's submission signal the dependency.
func (p *Pass) InjectSignal(d *Dependency) {
	p.deps = append(p.deps, depInject{dep: d, signal: true})
}

// catchDeps folds pending waits into the injection before recording.
func (p *Pass) catchDeps(inj *Injection) {
	for _, di := range p.deps {
		if !di.signal && di.dep.pending {
			inj.wait(di.dep.sem, di.dep.waitStage)
			di.dep.pending = false
		}
	}
}

// prepareDeps queues the signals of this pass onto the injection.
func (p *Pass) prepareDeps(inj *Injection) {
	for _, di := range p.deps {
		if di.signal && !di.dep.prepared {
			inj.signal(di.dep.sem)
			di.dep.prepared = true
		}
	}
}

// finishDeps commits prepared signals after a successful submission.
func (p *Pass) finishDeps() {
	for _, di := range p.deps {
		if di.signal && di.dep.prepared {
			di.dep.prepared = false
			di.dep.pending = true
		}
	}
}

// abortDeps rolls prepared signals back when the submission never
// happened.
func (p *Pass) abortDeps() {
	for _, di := range p.deps {
		if di.signal {
			di.dep.prepared = false
		}
	}
}
