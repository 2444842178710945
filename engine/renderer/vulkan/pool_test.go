package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

type poolCounters struct {
	blocksCreated int
	blocksFreed   int
	blocksReset   int
	setsAllocated int
	setsUpdated   int
}

// testPool stubs the device out; capacity caps sets per block so the
// full-block retry path can be exercised.
func testPool(flushes uint32, capacity int) (*DescriptorPool, *poolCounters) {
	var ct poolCounters
	allocated := map[*PoolBlock]int{}

	p := NewDescriptorPool(nil, flushes)
	p.createBlock = func(*DescriptorPool) (*PoolBlock, error) {
		ct.blocksCreated++
		return &PoolBlock{}, nil
	}
	p.freeBlock = func(_ *DescriptorPool, b *PoolBlock) {
		ct.blocksFreed++
		delete(allocated, b)
	}
	p.resetBlock = func(_ *DescriptorPool, b *PoolBlock) {
		ct.blocksReset++
		allocated[b] = 0
	}
	p.allocSet = func(_ *DescriptorPool, b *PoolBlock, _ *CacheElem) (vk.DescriptorSet, vk.Result) {
		if allocated[b] >= capacity {
			return nil, vk.ErrorOutOfPoolMemory
		}
		allocated[b]++
		ct.setsAllocated++
		return nil, vk.Success
	}
	p.updateSet = func(*DescriptorPool, vk.DescriptorSet, *CacheElem, *DescriptorUpdate) {
		ct.setsUpdated++
	}
	return p, &ct
}

func testLayout(id uint64) *CacheElem {
	return &CacheElem{Type: CacheElemDescriptorSetLayout, ID: id, Template: &UpdateTemplate{}}
}

func TestPoolGetReusesLiveSets(t *testing.T) {
	p, ct := testPool(0, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	a, err := sub.Get(layout, nil, []byte("binding-a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := sub.Get(layout, nil, []byte("binding-a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatalf("same key returned distinct sets")
	}
	if ct.setsAllocated != 1 {
		t.Fatalf("allocated %d sets, want 1", ct.setsAllocated)
	}
	if ct.setsUpdated != 1 {
		t.Fatalf("updated %d times, want 1 (hits must not rewrite)", ct.setsUpdated)
	}
}

func TestPoolLookupAfterFlush(t *testing.T) {
	p, ct := testPool(0, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	a, _ := sub.Get(layout, nil, []byte("k"))
	p.Flush()
	b, err := sub.Get(layout, nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get after flush: %v", err)
	}
	if a != b {
		t.Fatalf("set identity changed across flush")
	}
	if ct.setsAllocated != 1 {
		t.Fatalf("allocated %d sets, want 1", ct.setsAllocated)
	}
}

func TestPoolFullBlockRetry(t *testing.T) {
	p, ct := testPool(0, 2)
	sub := p.Subordinate()
	layout := testLayout(1)

	for i := 0; i < 5; i++ {
		if _, err := sub.Get(layout, nil, []byte{byte(i)}); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
	}
	if ct.blocksCreated != 3 {
		t.Fatalf("created %d blocks for 5 sets of capacity 2, want 3", ct.blocksCreated)
	}
	if ct.setsAllocated != 5 {
		t.Fatalf("allocated %d sets, want 5", ct.setsAllocated)
	}
}

func TestPoolAllocFailureSurfaces(t *testing.T) {
	p, _ := testPool(0, 16)
	p.allocSet = func(*DescriptorPool, *PoolBlock, *CacheElem) (vk.DescriptorSet, vk.Result) {
		return nil, vk.ErrorOutOfDeviceMemory
	}
	sub := p.Subordinate()

	if _, err := sub.Get(testLayout(1), nil, []byte("k")); !errors.Is(err, core.ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
}

func TestPoolFlushThresholdRecycles(t *testing.T) {
	p, ct := testPool(2, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	// The pinned set is looked up every frame and keeps its block alive.
	if _, err := sub.Get(layout, nil, []byte("stale")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := sub.Get(layout, nil, []byte("pinned")); err != nil {
		t.Fatalf("Get: %v", err)
	}

	p.Flush()
	if st := p.Stats(); st.Recycled != 0 || st.Immutable != 2 {
		t.Fatalf("recycled too early: %+v", st)
	}
	sub.Get(layout, nil, []byte("pinned"))
	p.Flush()
	if st := p.Stats(); st.Recycled != 1 || st.Immutable != 1 {
		t.Fatalf("set not recycled after threshold: %+v", st)
	}

	// A new binding with the same layout reclaims the recycled set.
	if _, err := sub.Get(layout, nil, []byte("fresh")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ct.setsAllocated != 2 {
		t.Fatalf("allocated %d sets, want 2 (recycled set not reused)", ct.setsAllocated)
	}
	if ct.setsUpdated != 3 {
		t.Fatalf("reclaimed set was not rewritten (%d updates)", ct.setsUpdated)
	}
}

func TestPoolRecycledSetsMatchLayoutOnly(t *testing.T) {
	p, ct := testPool(0, 16)
	sub := p.Subordinate()
	layoutA, layoutB := testLayout(1), testLayout(2)

	sub.Get(layoutA, nil, []byte("x"))
	sub.Get(layoutA, nil, []byte("pin")) // keeps the block from draining
	p.Flush()
	p.Recycle(layoutA, []byte("x"))

	// A different layout must not pick the recycled set up.
	if _, err := sub.Get(layoutB, nil, []byte("x")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ct.setsAllocated != 3 {
		t.Fatalf("recycled set crossed layouts: %d allocations", ct.setsAllocated)
	}

	// The matching layout does.
	if _, err := sub.Get(layoutA, nil, []byte("z")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ct.setsAllocated != 3 {
		t.Fatalf("recycled set was not reused within its layout: %d allocations", ct.setsAllocated)
	}
}

func TestPoolLookupResetsAge(t *testing.T) {
	p, _ := testPool(2, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	if _, err := sub.Get(layout, nil, []byte("hot")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 5; i++ {
		p.Flush()
		if _, err := sub.Get(layout, nil, []byte("hot")); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if st := p.Stats(); st.Recycled != 0 {
		t.Fatalf("looked-up set was recycled anyway: %+v", st)
	}
}

func TestPoolRecycleByKey(t *testing.T) {
	p, _ := testPool(0, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	sub.Get(layout, nil, []byte("gone"))
	sub.Get(layout, nil, []byte("kept"))
	p.Flush()

	p.Recycle(layout, []byte("gone"))
	st := p.Stats()
	if st.Recycled != 1 || st.Immutable != 1 {
		t.Fatalf("recycle by key touched the wrong sets: %+v", st)
	}
}

func TestPoolBlockDrainFrees(t *testing.T) {
	p, ct := testPool(1, 2)
	sub := p.Subordinate()
	layout := testLayout(1)

	sub.Get(layout, nil, []byte("a"))
	sub.Get(layout, nil, []byte("b"))
	p.Flush() // both recycled at threshold 1, block drains

	if ct.blocksFreed != 1 {
		t.Fatalf("fully recycled block was not freed (freed %d)", ct.blocksFreed)
	}
	if st := p.Stats(); st.Recycled != 0 {
		t.Fatalf("drained block left sets in the recycled table: %+v", st)
	}
}

func TestPoolResetKeepsBlocks(t *testing.T) {
	p, ct := testPool(0, 2)
	sub := p.Subordinate()
	layout := testLayout(1)

	for i := 0; i < 3; i++ {
		sub.Get(layout, nil, []byte{byte(i)})
	}
	p.Reset()

	if ct.blocksFreed != 0 {
		t.Fatalf("reset freed %d blocks, want 0", ct.blocksFreed)
	}
	if ct.blocksReset != ct.blocksCreated {
		t.Fatalf("reset recycled %d of %d blocks", ct.blocksReset, ct.blocksCreated)
	}
	if st := p.Stats(); st.Immutable != 0 || st.Recycled != 0 {
		t.Fatalf("reset left sets behind: %+v", st)
	}

	// Blocks are writable again afterwards.
	if _, err := sub.Get(layout, nil, []byte("after")); err != nil {
		t.Fatalf("Get after reset: %v", err)
	}
	if ct.blocksCreated != 2 {
		t.Fatalf("allocation after reset created a fresh block")
	}
}

func TestPoolUnsubHandsSetsOver(t *testing.T) {
	p, _ := testPool(0, 16)
	sub := p.Subordinate()
	layout := testLayout(1)

	a, _ := sub.Get(layout, nil, []byte("k"))
	p.Unsub(sub)

	other := p.Subordinate()
	b, err := other.Get(layout, nil, []byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatalf("set was lost across unsub")
	}
}
