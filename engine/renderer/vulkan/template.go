package vulkan

import (
	vk "github.com/goki/vulkan"
)

// UpdateTemplateEntry covers one binding of a set layout that takes
// descriptor data.
type UpdateTemplateEntry struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
}

// UpdateTemplate records, in binding order, how to fill a descriptor set
// allocated against its layout. Built once per cached set layout.
type UpdateTemplate struct {
	Entries []UpdateTemplateEntry
}

// DescriptorUpdate carries the resources to write into a set. Each slice
// is consumed in template entry order by the entries of its class.
type DescriptorUpdate struct {
	Buffers    []vk.DescriptorBufferInfo
	Images     []vk.DescriptorImageInfo
	TexelViews []vk.BufferView
}

func templateFromBindings(ci *vk.DescriptorSetLayoutCreateInfo) *UpdateTemplate {
	t := &UpdateTemplate{}
	for i := range ci.PBindings {
		b := &ci.PBindings[i]
		if b.DescriptorCount == 0 {
			continue
		}
		// A pure sampler binding backed by immutable samplers takes no
		// update data at all.
		if b.DescriptorType == vk.DescriptorTypeSampler && len(b.PImmutableSamplers) > 0 {
			continue
		}
		t.Entries = append(t.Entries, UpdateTemplateEntry{
			Binding: b.Binding,
			Type:    b.DescriptorType,
			Count:   b.DescriptorCount,
		})
	}
	return t
}

func usesBufferInfo(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeUniformBufferDynamic, vk.DescriptorTypeStorageBufferDynamic:
		return true
	}
	return false
}

func usesTexelView(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformTexelBuffer || t == vk.DescriptorTypeStorageTexelBuffer
}

// writes fans the update data out into one vkUpdateDescriptorSets call
// worth of writes for the given set.
func (t *UpdateTemplate) writes(set vk.DescriptorSet, u *DescriptorUpdate) []vk.WriteDescriptorSet {
	if u == nil {
		return nil
	}
	out := make([]vk.WriteDescriptorSet, 0, len(t.Entries))
	buffers, images, texels := u.Buffers, u.Images, u.TexelViews

	for _, e := range t.Entries {
		w := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      e.Binding,
			DescriptorCount: e.Count,
			DescriptorType:  e.Type,
		}
		n := int(e.Count)
		switch {
		case usesBufferInfo(e.Type):
			if len(buffers) < n {
				n = len(buffers)
			}
			w.PBufferInfo = buffers[:n]
			w.DescriptorCount = uint32(n)
			buffers = buffers[n:]
		case usesTexelView(e.Type):
			if len(texels) < n {
				n = len(texels)
			}
			w.PTexelBufferView = texels[:n]
			w.DescriptorCount = uint32(n)
			texels = texels[n:]
		default:
			if len(images) < n {
				n = len(images)
			}
			w.PImageInfo = images[:n]
			w.DescriptorCount = uint32(n)
			images = images[n:]
		}
		if w.DescriptorCount > 0 {
			out = append(out, w)
		}
	}
	return out
}
