package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func layoutBindings(bindings ...vk.DescriptorSetLayoutBinding) *vk.DescriptorSetLayoutCreateInfo {
	return &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
}

func TestTemplateSkipsEmptyAndImmutable(t *testing.T) {
	tmpl := templateFromBindings(layoutBindings(
		vk.DescriptorSetLayoutBinding{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1},
		vk.DescriptorSetLayoutBinding{Binding: 1, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: 0},
		vk.DescriptorSetLayoutBinding{
			Binding:            2,
			DescriptorType:     vk.DescriptorTypeSampler,
			DescriptorCount:    1,
			PImmutableSamplers: make([]vk.Sampler, 1),
		},
		vk.DescriptorSetLayoutBinding{Binding: 3, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
	))

	if len(tmpl.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(tmpl.Entries))
	}
	if tmpl.Entries[0].Binding != 0 || tmpl.Entries[1].Binding != 3 {
		t.Fatalf("kept bindings %d and %d, want 0 and 3", tmpl.Entries[0].Binding, tmpl.Entries[1].Binding)
	}
}

func TestTemplateWritesFanOut(t *testing.T) {
	tmpl := templateFromBindings(layoutBindings(
		vk.DescriptorSetLayoutBinding{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1},
		vk.DescriptorSetLayoutBinding{Binding: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
		vk.DescriptorSetLayoutBinding{Binding: 2, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1},
		vk.DescriptorSetLayoutBinding{Binding: 3, DescriptorType: vk.DescriptorTypeUniformTexelBuffer, DescriptorCount: 1},
	))

	update := &DescriptorUpdate{
		Buffers: []vk.DescriptorBufferInfo{
			{Offset: 0, Range: 64},  // binding 0
			{Offset: 64, Range: 16}, // binding 2
		},
		Images: []vk.DescriptorImageInfo{
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal},
			{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal},
		},
		TexelViews: make([]vk.BufferView, 1),
	}

	writes := tmpl.writes(nil, update)
	if len(writes) != 4 {
		t.Fatalf("got %d writes, want 4", len(writes))
	}

	// Buffer infos are consumed in entry order across buffer bindings.
	if writes[0].DstBinding != 0 || writes[0].PBufferInfo[0].Range != 64 {
		t.Fatalf("binding 0 got the wrong buffer info")
	}
	if writes[2].DstBinding != 2 || writes[2].PBufferInfo[0].Offset != 64 {
		t.Fatalf("binding 2 got the wrong buffer info")
	}
	if writes[1].DstBinding != 1 || writes[1].DescriptorCount != 2 || len(writes[1].PImageInfo) != 2 {
		t.Fatalf("image binding did not take both image infos")
	}
	if writes[3].DstBinding != 3 || len(writes[3].PTexelBufferView) != 1 {
		t.Fatalf("texel binding did not take the buffer view")
	}
}

func TestTemplateWritesClampToProvidedData(t *testing.T) {
	tmpl := templateFromBindings(layoutBindings(
		vk.DescriptorSetLayoutBinding{Binding: 0, DescriptorType: vk.DescriptorTypeSampledImage, DescriptorCount: 4},
	))

	update := &DescriptorUpdate{
		Images: make([]vk.DescriptorImageInfo, 2),
	}
	writes := tmpl.writes(nil, update)
	if len(writes) != 1 || writes[0].DescriptorCount != 2 {
		t.Fatalf("partial update not clamped: %+v", writes)
	}

	// No data at all means no writes.
	if got := tmpl.writes(nil, &DescriptorUpdate{}); len(got) != 0 {
		t.Fatalf("empty update produced %d writes", len(got))
	}
	if got := tmpl.writes(nil, nil); got != nil {
		t.Fatalf("nil update produced writes")
	}
}
