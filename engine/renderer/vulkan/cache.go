package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

type CacheElemType int

const (
	CacheElemDescriptorSetLayout CacheElemType = iota
	CacheElemPipelineLayout
	CacheElemSampler
	CacheElemRenderPass
	CacheElemGraphicsPipeline
	CacheElemComputePipeline
)

// CacheElem is one deduplicated Vulkan object. Only the field matching
// Type is valid. The ID is stable for the elem's lifetime and is what
// other cache keys embed when they reference this elem.
type CacheElem struct {
	Type CacheElemType
	ID   uint64

	SetLayout  vk.DescriptorSetLayout
	Layout     vk.PipelineLayout
	Sampler    vk.Sampler
	RenderPass vk.RenderPass
	Pipeline   vk.Pipeline

	// Set for descriptor set layouts, describes how to write sets
	// allocated against it.
	Template *UpdateTemplate
}

// ObjectCache deduplicates immutable Vulkan objects by the canonical key
// of their create info.
//
// Non-pipeline objects live in a single table behind one lock; they are
// cheap to create and contention is rare. Pipelines get a two-tier
// structure tuned for frame loops: a lock-free immutable tier for the
// steady state and a locked mutable tier for new pipelines, merged into
// the immutable tier by Flush at frame boundaries.
type ObjectCache struct {
	ctx     *VulkanContext
	vkCache vk.PipelineCache

	nextID atomic.Uint64

	simpleMu sync.Mutex
	simple   map[string]*CacheElem

	// lookupMu guards the mutable table and immutable tier swaps,
	// createMu serializes pipeline builds so one pipeline is never
	// created twice.
	lookupMu  sync.Mutex
	createMu  sync.Mutex
	immutable atomic.Value // map[string]*CacheElem
	mutable   map[string]*CacheElem

	samplers    atomic.Int64
	maxSamplers int64

	// Device calls go through these so logic stays testable without a
	// device.
	createElem  func(c *ObjectCache, elem *CacheElem, info interface{}) error
	destroyElem func(c *ObjectCache, elem *CacheElem)
}

// NewObjectCache creates the cache and its backing VkPipelineCache.
func NewObjectCache(ctx *VulkanContext) (*ObjectCache, error) {
	c := newObjectCacheBare(ctx)

	cacheInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if res := vk.CreatePipelineCache(ctx.Device, &cacheInfo, ctx.Allocator, &c.vkCache); res != vk.Success {
		return nil, vkError(core.ErrCreation, res, "vkCreatePipelineCache")
	}
	return c, nil
}

func newObjectCacheBare(ctx *VulkanContext) *ObjectCache {
	c := &ObjectCache{
		ctx:     ctx,
		simple:  make(map[string]*CacheElem),
		mutable: make(map[string]*CacheElem),
	}
	c.immutable.Store(map[string]*CacheElem{})
	if ctx != nil {
		c.maxSamplers = int64(ctx.Properties.Limits.MaxSamplerAllocationCount)
	}
	c.createElem = (*ObjectCache).createVkElem
	c.destroyElem = (*ObjectCache).destroyVkElem
	return c
}

// Destroy frees every cached object. No lookups may be in flight.
func (c *ObjectCache) Destroy() {
	for _, e := range c.simple {
		c.destroyElem(c, e)
	}
	c.simple = map[string]*CacheElem{}
	for _, e := range c.immutable.Load().(map[string]*CacheElem) {
		c.destroyElem(c, e)
	}
	c.immutable.Store(map[string]*CacheElem{})
	for _, e := range c.mutable {
		c.destroyElem(c, e)
	}
	c.mutable = map[string]*CacheElem{}

	if c.vkCache != vk.NullPipelineCache {
		vk.DestroyPipelineCache(c.ctx.Device, c.vkCache, c.ctx.Allocator)
		c.vkCache = vk.NullPipelineCache
	}
}

func elemTypeOf(info interface{}) (CacheElemType, bool) {
	switch info.(type) {
	case *vk.DescriptorSetLayoutCreateInfo:
		return CacheElemDescriptorSetLayout, true
	case *vk.PipelineLayoutCreateInfo:
		return CacheElemPipelineLayout, true
	case *vk.SamplerCreateInfo:
		return CacheElemSampler, true
	case *vk.RenderPassCreateInfo:
		return CacheElemRenderPass, true
	case *vk.GraphicsPipelineCreateInfo:
		return CacheElemGraphicsPipeline, true
	case *vk.ComputePipelineCreateInfo:
		return CacheElemComputePipeline, true
	default:
		return 0, false
	}
}

func (t CacheElemType) isPipeline() bool {
	return t == CacheElemGraphicsPipeline || t == CacheElemComputePipeline
}

// Get returns the cached elem for the create info, creating it on a miss.
// The info must carry real handles; handles carries the stable ids of the
// referenced elems for key substitution, in field order.
func (c *ObjectCache) Get(info interface{}, handles []uint64) (*CacheElem, error) {
	elemType, ok := elemTypeOf(info)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported create info %T", core.ErrCreation, info)
	}
	key, err := buildCacheKey(info, handles)
	if err != nil {
		return nil, err
	}
	if elemType.isPipeline() {
		return c.getPipeline(elemType, key, info)
	}
	return c.getSimple(elemType, key, info)
}

func (c *ObjectCache) getSimple(elemType CacheElemType, key string, info interface{}) (*CacheElem, error) {
	c.simpleMu.Lock()
	defer c.simpleMu.Unlock()

	if elem, ok := c.simple[key]; ok {
		return elem, nil
	}
	elem := &CacheElem{Type: elemType, ID: c.nextID.Add(1)}
	if err := c.createElem(c, elem, info); err != nil {
		return nil, err
	}
	c.simple[key] = elem
	return elem, nil
}

func (c *ObjectCache) getPipeline(elemType CacheElemType, key string, info interface{}) (*CacheElem, error) {
	immutable := c.immutable.Load().(map[string]*CacheElem)
	if elem, ok := immutable[key]; ok {
		return elem, nil
	}

	c.lookupMu.Lock()
	elem, ok := c.mutable[key]
	c.lookupMu.Unlock()
	if ok {
		return elem, nil
	}

	// Slow path, build the pipeline once.
	c.createMu.Lock()
	defer c.createMu.Unlock()

	immutable = c.immutable.Load().(map[string]*CacheElem)
	if elem, ok := immutable[key]; ok {
		return elem, nil
	}
	c.lookupMu.Lock()
	elem, ok = c.mutable[key]
	c.lookupMu.Unlock()
	if ok {
		return elem, nil
	}

	elem = &CacheElem{Type: elemType, ID: c.nextID.Add(1)}
	if err := c.createElem(c, elem, info); err != nil {
		return nil, err
	}

	c.lookupMu.Lock()
	c.mutable[key] = elem
	c.lookupMu.Unlock()
	return elem, nil
}

// Warmup builds a pipeline straight into the immutable tier, intended
// for load screens. Safe to run concurrently with Get; the pipeline is
// usable once Warmup returned.
func (c *ObjectCache) Warmup(info interface{}, handles []uint64) error {
	elemType, ok := elemTypeOf(info)
	if !ok || !elemType.isPipeline() {
		return fmt.Errorf("%w: warmup only takes pipeline create infos, got %T", core.ErrCreation, info)
	}
	key, err := buildCacheKey(info, handles)
	if err != nil {
		return err
	}

	immutable := c.immutable.Load().(map[string]*CacheElem)
	if _, ok := immutable[key]; ok {
		return nil
	}
	c.lookupMu.Lock()
	_, ok = c.mutable[key]
	c.lookupMu.Unlock()
	if ok {
		// Already built this frame, Flush moves it over.
		return nil
	}

	// Same build lock as Get, so a racing lookup never creates the
	// pipeline a second time.
	c.createMu.Lock()
	defer c.createMu.Unlock()

	immutable = c.immutable.Load().(map[string]*CacheElem)
	if _, ok := immutable[key]; ok {
		return nil
	}
	c.lookupMu.Lock()
	_, ok = c.mutable[key]
	c.lookupMu.Unlock()
	if ok {
		return nil
	}

	elem := &CacheElem{Type: elemType, ID: c.nextID.Add(1)}
	if err := c.createElem(c, elem, info); err != nil {
		return err
	}

	c.lookupMu.Lock()
	immutable = c.immutable.Load().(map[string]*CacheElem)
	next := make(map[string]*CacheElem, len(immutable)+1)
	for k, v := range immutable {
		next[k] = v
	}
	next[key] = elem
	c.immutable.Store(next)
	c.lookupMu.Unlock()
	return nil
}

// Flush merges the mutable pipeline tier into the immutable tier. Safe to
// run concurrently with Get and Warmup, not with itself.
func (c *ObjectCache) Flush() {
	c.lookupMu.Lock()
	defer c.lookupMu.Unlock()

	if len(c.mutable) == 0 {
		return
	}
	immutable := c.immutable.Load().(map[string]*CacheElem)
	next := make(map[string]*CacheElem, len(immutable)+len(c.mutable))
	for k, v := range immutable {
		next[k] = v
	}
	for k, v := range c.mutable {
		next[k] = v
	}
	c.immutable.Store(next)
	c.mutable = make(map[string]*CacheElem)
}

func (c *ObjectCache) createVkElem(elem *CacheElem, info interface{}) error {
	device := c.ctx.Device

	switch ci := info.(type) {
	case *vk.DescriptorSetLayoutCreateInfo:
		if res := vk.CreateDescriptorSetLayout(device, ci, c.ctx.Allocator, &elem.SetLayout); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateDescriptorSetLayout")
		}
		elem.Template = templateFromBindings(ci)

	case *vk.PipelineLayoutCreateInfo:
		if res := vk.CreatePipelineLayout(device, ci, c.ctx.Allocator, &elem.Layout); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreatePipelineLayout")
		}

	case *vk.SamplerCreateInfo:
		// Samplers are a scarce device resource with a hard allocation
		// limit, guard it before touching the driver.
		if c.maxSamplers > 0 && c.samplers.Add(1) > c.maxSamplers {
			c.samplers.Add(-1)
			return fmt.Errorf("%w: sampler allocation limit (%d) reached", core.ErrAllocation, c.maxSamplers)
		}
		if res := vk.CreateSampler(device, ci, c.ctx.Allocator, &elem.Sampler); res != vk.Success {
			c.samplers.Add(-1)
			return vkError(core.ErrCreation, res, "vkCreateSampler")
		}

	case *vk.RenderPassCreateInfo:
		if res := vk.CreateRenderPass(device, ci, c.ctx.Allocator, &elem.RenderPass); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateRenderPass")
		}

	case *vk.GraphicsPipelineCreateInfo:
		pipelines := make([]vk.Pipeline, 1)
		if res := vk.CreateGraphicsPipelines(device, c.vkCache, 1, []vk.GraphicsPipelineCreateInfo{*ci}, c.ctx.Allocator, pipelines); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateGraphicsPipelines")
		}
		elem.Pipeline = pipelines[0]

	case *vk.ComputePipelineCreateInfo:
		pipelines := make([]vk.Pipeline, 1)
		if res := vk.CreateComputePipelines(device, c.vkCache, 1, []vk.ComputePipelineCreateInfo{*ci}, c.ctx.Allocator, pipelines); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateComputePipelines")
		}
		elem.Pipeline = pipelines[0]

	default:
		return fmt.Errorf("%w: unsupported create info %T", core.ErrCreation, info)
	}
	return nil
}

func (c *ObjectCache) destroyVkElem(elem *CacheElem) {
	device := c.ctx.Device

	switch elem.Type {
	case CacheElemDescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(device, elem.SetLayout, c.ctx.Allocator)
	case CacheElemPipelineLayout:
		vk.DestroyPipelineLayout(device, elem.Layout, c.ctx.Allocator)
	case CacheElemSampler:
		vk.DestroySampler(device, elem.Sampler, c.ctx.Allocator)
		c.samplers.Add(-1)
	case CacheElemRenderPass:
		vk.DestroyRenderPass(device, elem.RenderPass, c.ctx.Allocator)
	case CacheElemGraphicsPipeline, CacheElemComputePipeline:
		vk.DestroyPipeline(device, elem.Pipeline, c.ctx.Allocator)
	}
}
