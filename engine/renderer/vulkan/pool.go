package vulkan

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// Every block is one VkDescriptorPool sized for a fixed set capacity over a
// spread of descriptor types, so any layout can allocate from any block.
const blockSetCount = 1000

var blockPoolSizes = []vk.DescriptorPoolSize{
	{Type: vk.DescriptorTypeSampler, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeSampledImage, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeStorageImage, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeUniformTexelBuffer, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeStorageTexelBuffer, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeStorageBufferDynamic, DescriptorCount: blockSetCount},
	{Type: vk.DescriptorTypeInputAttachment, DescriptorCount: blockSetCount},
}

// PoolElem is one allocated descriptor set together with its bookkeeping.
type PoolElem struct {
	Set   vk.DescriptorSet
	block *PoolBlock

	// Full key while the elem is live, shrunk to the layout prefix once
	// recycled.
	key string

	// Flushes survived without being looked up.
	flushes atomic.Uint32
}

// PoolBlock wraps one VkDescriptorPool.
type PoolBlock struct {
	pool  vk.DescriptorPool
	elems []*PoolElem

	// Live sets allocated from this block. The block is freed when this
	// drains to zero.
	sets atomic.Int32

	full bool
}

// PoolSub is a subordinate, the single-threaded handle through which one
// recording thread allocates descriptor sets. A subordinate claims a
// block for itself so allocations never contend.
type PoolSub struct {
	pool    *DescriptorPool
	mutable map[string]*PoolElem
	block   *PoolBlock
}

// DescriptorPool allocates and reuses descriptor sets keyed by their set
// layout and bound resources.
//
// Lookups hit a lock-free immutable table first, then the subordinate's
// private mutable table, then the recycled table. Flush merges the
// mutable tables into the immutable one at frame boundaries and retires
// sets that have not been looked up for a configured number of flushes.
// Flush, Reset, Recycle and Unsub must not run concurrently with Get.
type DescriptorPool struct {
	ctx *VulkanContext

	// Flushes an unused set survives before it is recycled.
	flushes uint32

	subMu sync.Mutex
	subs  []*PoolSub
	free  []*PoolBlock
	full  []*PoolBlock

	immutable atomic.Value // map[string]*PoolElem

	recMu    sync.Mutex
	recycled map[string][]*PoolElem

	createBlock func(p *DescriptorPool) (*PoolBlock, error)
	freeBlock   func(p *DescriptorPool, b *PoolBlock)
	resetBlock  func(p *DescriptorPool, b *PoolBlock)
	allocSet    func(p *DescriptorPool, b *PoolBlock, layout *CacheElem) (vk.DescriptorSet, vk.Result)
	updateSet   func(p *DescriptorPool, set vk.DescriptorSet, layout *CacheElem, update *DescriptorUpdate)
}

// NewDescriptorPool creates an empty pool. Sets unused for flushes
// consecutive Flush calls are recycled; zero keeps every set alive
// forever.
func NewDescriptorPool(ctx *VulkanContext, flushes uint32) *DescriptorPool {
	p := &DescriptorPool{
		ctx:      ctx,
		flushes:  flushes,
		recycled: make(map[string][]*PoolElem),
	}
	p.immutable.Store(map[string]*PoolElem{})
	p.createBlock = (*DescriptorPool).createVkBlock
	p.freeBlock = (*DescriptorPool).freeVkBlock
	p.resetBlock = (*DescriptorPool).resetVkBlock
	p.allocSet = (*DescriptorPool).allocVkSet
	p.updateSet = (*DescriptorPool).updateVkSet
	return p
}

// Destroy frees all blocks. Subordinates must be done recording.
func (p *DescriptorPool) Destroy() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, s := range p.subs {
		s.block = nil
		s.mutable = make(map[string]*PoolElem)
	}
	for _, b := range append(p.free, p.full...) {
		p.freeBlock(p, b)
	}
	p.free, p.full = nil, nil
	p.immutable.Store(map[string]*PoolElem{})
	p.recMu.Lock()
	p.recycled = make(map[string][]*PoolElem)
	p.recMu.Unlock()
}

// Subordinate registers a new allocation handle. Each recording thread
// gets its own.
func (p *DescriptorPool) Subordinate() *PoolSub {
	s := &PoolSub{
		pool:    p,
		mutable: make(map[string]*PoolElem),
	}
	p.subMu.Lock()
	p.subs = append(p.subs, s)
	p.subMu.Unlock()
	return s
}

// Unsub unregisters a subordinate and hands its sets over to the shared
// immutable table.
func (p *DescriptorPool) Unsub(s *PoolSub) {
	p.unclaimBlocks()

	immutable := p.immutable.Load().(map[string]*PoolElem)
	next := make(map[string]*PoolElem, len(immutable)+len(s.mutable))
	for k, v := range immutable {
		next[k] = v
	}
	for k, e := range s.mutable {
		if _, dup := next[k]; dup {
			p.recycleElem(e)
			continue
		}
		next[k] = e
	}
	p.immutable.Store(next)
	s.mutable = make(map[string]*PoolElem)

	p.subMu.Lock()
	for i, sub := range p.subs {
		if sub == s {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			break
		}
	}
	p.subMu.Unlock()
}

// descriptorKey prefixes the update content with the stable id of the set
// layout, so recycled sets can be matched by layout alone.
func descriptorKey(layout *CacheElem, data []byte) string {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], layout.ID)
	return string(prefix[:]) + string(data)
}

// Get returns a descriptor set for the layout bound to the resources
// identified by data, writing update into it when the set is new or
// reclaimed.
func (s *PoolSub) Get(layout *CacheElem, update *DescriptorUpdate, data []byte) (*PoolElem, error) {
	p := s.pool
	key := descriptorKey(layout, data)

	immutable := p.immutable.Load().(map[string]*PoolElem)
	if e, ok := immutable[key]; ok {
		e.flushes.Store(0)
		return e, nil
	}
	if e, ok := s.mutable[key]; ok {
		e.flushes.Store(0)
		return e, nil
	}

	// A recycled set with this layout can be rewritten in place.
	prefix := key[:8]
	p.recMu.Lock()
	var elem *PoolElem
	if list := p.recycled[prefix]; len(list) > 0 {
		elem = list[len(list)-1]
		p.recycled[prefix] = list[:len(list)-1]
	}
	p.recMu.Unlock()

	if elem == nil {
		var err error
		if elem, err = s.alloc(layout); err != nil {
			return nil, err
		}
	}

	elem.key = key
	elem.flushes.Store(0)
	if elem.block != nil {
		elem.block.sets.Add(1)
	}
	s.mutable[key] = elem

	p.updateSet(p, elem.Set, layout, update)
	return elem, nil
}

// alloc carves a fresh set out of the claimed block, claiming or creating
// blocks until one succeeds.
func (s *PoolSub) alloc(layout *CacheElem) (*PoolElem, error) {
	p := s.pool

	for {
		if s.block == nil {
			p.subMu.Lock()
			if n := len(p.free); n > 0 {
				s.block = p.free[n-1]
				p.free = p.free[:n-1]
			}
			p.subMu.Unlock()

			if s.block == nil {
				block, err := p.createBlock(p)
				if err != nil {
					return nil, err
				}
				s.block = block
			}
		}

		set, res := p.allocSet(p, s.block, layout)
		switch res {
		case vk.Success:
			elem := &PoolElem{Set: set, block: s.block}
			s.block.elems = append(s.block.elems, elem)
			return elem, nil

		case vk.ErrorFragmentedPool, vk.ErrorOutOfPoolMemory:
			// Retire the block and retry with another.
			s.block.full = true
			p.subMu.Lock()
			p.full = append(p.full, s.block)
			p.subMu.Unlock()
			s.block = nil

		default:
			return nil, vkError(core.ErrAllocation, res, "vkAllocateDescriptorSets")
		}
	}
}

// unclaimBlocks returns claimed blocks to the free list so other
// subordinates can fill them further.
func (p *DescriptorPool) unclaimBlocks() {
	p.subMu.Lock()
	for _, s := range p.subs {
		if s.block != nil {
			p.free = append(p.free, s.block)
			s.block = nil
		}
	}
	p.subMu.Unlock()
}

// Flush merges every subordinate's sets into the immutable table, ages
// all sets and recycles the ones unused for too long. Must not run
// concurrently with Get or itself.
func (p *DescriptorPool) Flush() {
	p.unclaimBlocks()

	immutable := p.immutable.Load().(map[string]*PoolElem)
	next := make(map[string]*PoolElem, len(immutable))
	for k, v := range immutable {
		next[k] = v
	}

	p.subMu.Lock()
	subs := append([]*PoolSub(nil), p.subs...)
	p.subMu.Unlock()

	for _, s := range subs {
		for k, e := range s.mutable {
			if _, dup := next[k]; dup {
				// Two subordinates raced the same binding, keep one set.
				p.recycleElem(e)
				continue
			}
			next[k] = e
		}
		s.mutable = make(map[string]*PoolElem)
	}

	if p.flushes > 0 {
		for k, e := range next {
			if e.flushes.Add(1) >= p.flushes {
				delete(next, k)
				p.recycleElem(e)
			}
		}
	}
	p.immutable.Store(next)
}

// Recycle retires the sets bound to one specific key, typically because a
// bound resource is gone. Must not run concurrently with Get.
func (p *DescriptorPool) Recycle(layout *CacheElem, data []byte) {
	p.unclaimBlocks()
	key := descriptorKey(layout, data)

	immutable := p.immutable.Load().(map[string]*PoolElem)
	if e, ok := immutable[key]; ok {
		next := make(map[string]*PoolElem, len(immutable))
		for k, v := range immutable {
			if k != key {
				next[k] = v
			}
		}
		p.immutable.Store(next)
		p.recycleElem(e)
	}

	p.subMu.Lock()
	subs := append([]*PoolSub(nil), p.subs...)
	p.subMu.Unlock()
	for _, s := range subs {
		if e, ok := s.mutable[key]; ok {
			delete(s.mutable, key)
			p.recycleElem(e)
		}
	}
}

// Reset throws every set away but keeps the blocks for reuse. Must not
// run concurrently with Get.
func (p *DescriptorPool) Reset() {
	p.unclaimBlocks()

	p.immutable.Store(map[string]*PoolElem{})
	p.recMu.Lock()
	p.recycled = make(map[string][]*PoolElem)
	p.recMu.Unlock()

	p.subMu.Lock()
	for _, s := range p.subs {
		s.mutable = make(map[string]*PoolElem)
	}
	for _, b := range p.full {
		b.full = false
		p.free = append(p.free, b)
	}
	p.full = nil
	blocks := append([]*PoolBlock(nil), p.free...)
	p.subMu.Unlock()

	for _, b := range blocks {
		b.elems = nil
		b.sets.Store(0)
		p.resetBlock(p, b)
	}
}

// recycleElem moves a live elem into the recycled table under its layout
// prefix and frees the backing block once its last set drains.
func (p *DescriptorPool) recycleElem(e *PoolElem) {
	prefix := e.key[:8]
	e.key = prefix

	p.recMu.Lock()
	p.recycled[prefix] = append(p.recycled[prefix], e)
	p.recMu.Unlock()

	if e.block != nil && e.block.sets.Add(-1) == 0 {
		p.drainBlock(e.block)
	}
}

// drainBlock frees a block whose sets all sit in the recycled table.
func (p *DescriptorPool) drainBlock(b *PoolBlock) {
	p.recMu.Lock()
	for _, e := range b.elems {
		list := p.recycled[e.key]
		for i, cand := range list {
			if cand == e {
				p.recycled[e.key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(p.recycled[e.key]) == 0 {
			delete(p.recycled, e.key)
		}
	}
	p.recMu.Unlock()

	p.subMu.Lock()
	for i, cand := range p.free {
		if cand == b {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
	for i, cand := range p.full {
		if cand == b {
			p.full = append(p.full[:i], p.full[i+1:]...)
			break
		}
	}
	p.subMu.Unlock()

	p.freeBlock(p, b)
}

func (p *DescriptorPool) createVkBlock() (*PoolBlock, error) {
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       blockSetCount,
		PoolSizeCount: uint32(len(blockPoolSizes)),
		PPoolSizes:    blockPoolSizes,
	}
	b := &PoolBlock{}
	if res := vk.CreateDescriptorPool(p.ctx.Device, &poolInfo, p.ctx.Allocator, &b.pool); res != vk.Success {
		return nil, vkError(core.ErrAllocation, res, "vkCreateDescriptorPool")
	}
	return b, nil
}

func (p *DescriptorPool) freeVkBlock(b *PoolBlock) {
	if b.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(p.ctx.Device, b.pool, p.ctx.Allocator)
		b.pool = vk.NullDescriptorPool
	}
}

func (p *DescriptorPool) resetVkBlock(b *PoolBlock) {
	vk.ResetDescriptorPool(p.ctx.Device, b.pool, 0)
}

func (p *DescriptorPool) allocVkSet(b *PoolBlock, layout *CacheElem) (vk.DescriptorSet, vk.Result) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     b.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.SetLayout},
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(p.ctx.Device, &allocInfo, &set)
	return set, res
}

func (p *DescriptorPool) updateVkSet(set vk.DescriptorSet, layout *CacheElem, update *DescriptorUpdate) {
	if layout.Template == nil {
		return
	}
	writes := layout.Template.writes(set, update)
	if len(writes) == 0 {
		return
	}
	vk.UpdateDescriptorSets(p.ctx.Device, uint32(len(writes)), writes, 0, nil)
}

// stats reporting for debug overlays and tests.
type PoolStats struct {
	FreeBlocks int
	FullBlocks int
	Immutable  int
	Recycled   int
}

func (p *DescriptorPool) Stats() PoolStats {
	var st PoolStats
	p.subMu.Lock()
	st.FreeBlocks = len(p.free)
	st.FullBlocks = len(p.full)
	claimed := 0
	for _, s := range p.subs {
		if s.block != nil {
			claimed++
		}
	}
	st.FreeBlocks += claimed
	p.subMu.Unlock()

	st.Immutable = len(p.immutable.Load().(map[string]*PoolElem))
	p.recMu.Lock()
	for _, list := range p.recycled {
		st.Recycled += len(list)
	}
	p.recMu.Unlock()
	return st
}
