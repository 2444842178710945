package vulkan

import (
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// testCache returns a cache whose device calls only count.
func testCache() (*ObjectCache, *int) {
	created := 0
	c := newObjectCacheBare(nil)
	c.createElem = func(_ *ObjectCache, elem *CacheElem, info interface{}) error {
		created++
		if ci, ok := info.(*vk.DescriptorSetLayoutCreateInfo); ok {
			elem.Template = templateFromBindings(ci)
		}
		return nil
	}
	c.destroyElem = func(*ObjectCache, *CacheElem) {}
	return c, &created
}

func graphicsPipelineInfo(subpass uint32) *vk.GraphicsPipelineCreateInfo {
	return &vk.GraphicsPipelineCreateInfo{
		SType:   vk.StructureTypeGraphicsPipelineCreateInfo,
		Subpass: subpass,
	}
}

func TestCacheSimpleDedup(t *testing.T) {
	c, created := testCache()

	a, err := c.Get(setLayoutInfo(0), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := c.Get(setLayoutInfo(0), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatalf("equal infos returned distinct elems")
	}
	if *created != 1 {
		t.Fatalf("created %d objects, want 1", *created)
	}
	if a.Template == nil || len(a.Template.Entries) != 1 {
		t.Fatalf("set layout elem is missing its update template")
	}
}

func TestCacheElemIDsStable(t *testing.T) {
	c, _ := testCache()
	a, _ := c.Get(setLayoutInfo(0), nil)
	b, _ := c.Get(setLayoutInfo(1), nil)
	if a.ID == b.ID || a.ID == 0 || b.ID == 0 {
		t.Fatalf("elem ids not unique and nonzero: %d, %d", a.ID, b.ID)
	}
}

func TestCachePipelineGetAndFlush(t *testing.T) {
	c, created := testCache()

	a, err := c.Get(graphicsPipelineInfo(0), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(c.mutable) != 1 {
		t.Fatalf("new pipeline not in the mutable tier")
	}

	c.Flush()
	if len(c.mutable) != 0 {
		t.Fatalf("flush left the mutable tier populated")
	}
	immutable := c.immutable.Load().(map[string]*CacheElem)
	if len(immutable) != 1 {
		t.Fatalf("flush did not merge into the immutable tier")
	}

	b, err := c.Get(graphicsPipelineInfo(0), nil)
	if err != nil {
		t.Fatalf("Get after flush: %v", err)
	}
	if a != b {
		t.Fatalf("pipeline identity changed across flush")
	}
	if *created != 1 {
		t.Fatalf("created %d pipelines, want 1", *created)
	}
}

func TestCacheWarmupIdempotent(t *testing.T) {
	c, created := testCache()

	for i := 0; i < 3; i++ {
		if err := c.Warmup(graphicsPipelineInfo(0), nil); err != nil {
			t.Fatalf("Warmup: %v", err)
		}
	}
	if *created != 1 {
		t.Fatalf("warmup created %d pipelines, want 1", *created)
	}

	// Warmed pipelines are already immutable, Get must not build again.
	if _, err := c.Get(graphicsPipelineInfo(0), nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *created != 1 {
		t.Fatalf("get after warmup created another pipeline")
	}
}

func TestCacheWarmupFailureLeavesNoEntry(t *testing.T) {
	c, _ := testCache()
	fail := errors.New("no device")
	c.createElem = func(*ObjectCache, *CacheElem, interface{}) error { return fail }

	if err := c.Warmup(graphicsPipelineInfo(0), nil); !errors.Is(err, fail) {
		t.Fatalf("Warmup error = %v, want %v", err, fail)
	}
	if n := len(c.immutable.Load().(map[string]*CacheElem)); n != 0 {
		t.Fatalf("failed warmup left %d entries behind", n)
	}
}

func TestCacheWarmupAndGetBuildOnce(t *testing.T) {
	c, created := testCache()
	inner := c.createElem
	enter := make(chan struct{}, 2)
	release := make(chan struct{})
	c.createElem = func(cc *ObjectCache, e *CacheElem, info interface{}) error {
		enter <- struct{}{}
		<-release
		return inner(cc, e, info)
	}

	getDone := make(chan error, 1)
	go func() {
		_, err := c.Get(graphicsPipelineInfo(0), nil)
		getDone <- err
	}()
	<-enter

	// Warmup for the same key while the Get is mid-build.
	warmDone := make(chan error, 1)
	go func() { warmDone <- c.Warmup(graphicsPipelineInfo(0), nil) }()

	close(release)
	if err := <-getDone; err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := <-warmDone; err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if *created != 1 {
		t.Fatalf("pipeline built %d times for one key", *created)
	}
}

func TestCacheWarmupRejectsNonPipelines(t *testing.T) {
	c, _ := testCache()
	if err := c.Warmup(setLayoutInfo(0), nil); !errors.Is(err, core.ErrCreation) {
		t.Fatalf("expected ErrCreation, got %v", err)
	}
}

func TestCacheConcurrentPipelineGet(t *testing.T) {
	c, created := testCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := c.Get(graphicsPipelineInfo(uint32(j%4)), nil); err != nil {
					t.Errorf("Get: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if *created != 4 {
		t.Fatalf("created %d pipelines under contention, want 4", *created)
	}
}
