package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func setLayoutInfo(binding uint32) *vk.DescriptorSetLayoutCreateInfo {
	return &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings: []vk.DescriptorSetLayoutBinding{{
			Binding:         binding,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		}},
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a, err := buildCacheKey(setLayoutInfo(0), nil)
	if err != nil {
		t.Fatalf("buildCacheKey: %v", err)
	}
	b, err := buildCacheKey(setLayoutInfo(0), nil)
	if err != nil {
		t.Fatalf("buildCacheKey: %v", err)
	}
	if a != b {
		t.Fatalf("identical infos produced different keys")
	}
}

func TestCacheKeyDistinguishesFields(t *testing.T) {
	a, _ := buildCacheKey(setLayoutInfo(0), nil)
	b, _ := buildCacheKey(setLayoutInfo(1), nil)
	if a == b {
		t.Fatalf("different bindings produced the same key")
	}
}

func TestCacheKeyHandleSubstitution(t *testing.T) {
	info := &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    make([]vk.DescriptorSetLayout, 1),
	}
	a, err := buildCacheKey(info, []uint64{1})
	if err != nil {
		t.Fatalf("buildCacheKey: %v", err)
	}
	b, _ := buildCacheKey(info, []uint64{2})
	if a == b {
		t.Fatalf("different referenced layouts produced the same key")
	}
	c, _ := buildCacheKey(info, []uint64{1})
	if a != c {
		t.Fatalf("same referenced layout produced different keys")
	}
}

func TestCacheKeyTypeTagsDisjoint(t *testing.T) {
	// An empty pipeline layout and an empty set layout must not collide.
	a, _ := buildCacheKey(&vk.DescriptorSetLayoutCreateInfo{SType: vk.StructureTypeDescriptorSetLayoutCreateInfo}, nil)
	b, _ := buildCacheKey(&vk.PipelineLayoutCreateInfo{SType: vk.StructureTypePipelineLayoutCreateInfo}, nil)
	if a == b {
		t.Fatalf("keys of different object types collided")
	}
}

func TestCacheKeyUnsupportedInfo(t *testing.T) {
	if _, err := buildCacheKey(&vk.BufferCreateInfo{}, nil); err == nil {
		t.Fatalf("expected an error for an unsupported create info")
	}
}

func TestCacheKeyOptionalSubStructMarkers(t *testing.T) {
	base := &vk.GraphicsPipelineCreateInfo{
		SType: vk.StructureTypeGraphicsPipelineCreateInfo,
	}
	withRaster := &vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{},
	}
	a, err := buildCacheKey(base, nil)
	if err != nil {
		t.Fatalf("buildCacheKey: %v", err)
	}
	b, err := buildCacheKey(withRaster, nil)
	if err != nil {
		t.Fatalf("buildCacheKey: %v", err)
	}
	if a == b {
		t.Fatalf("presence of an optional sub-struct did not change the key")
	}
}
