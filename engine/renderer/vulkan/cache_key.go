package vulkan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// keyBuilder serializes the distinguishing fields of a Vk*CreateInfo into
// a canonical little endian byte string. Two infos that would create
// interchangeable objects must serialize to the same bytes, so pNext
// chains and pointer values are never written; referenced handles are
// substituted with the stable ids the caller supplies, in encounter
// order.
type keyBuilder struct {
	buf     bytes.Buffer
	handles []uint64
	next    int
}

func (kb *keyBuilder) u8(v uint8)   { kb.buf.WriteByte(v) }
func (kb *keyBuilder) u32(v uint32) { binary.Write(&kb.buf, binary.LittleEndian, v) }
func (kb *keyBuilder) u64(v uint64) { binary.Write(&kb.buf, binary.LittleEndian, v) }
func (kb *keyBuilder) i32(v int32)  { binary.Write(&kb.buf, binary.LittleEndian, v) }
func (kb *keyBuilder) f32(v float32) {
	kb.u32(math.Float32bits(v))
}

func (kb *keyBuilder) b(v vk.Bool32) {
	if v == vk.True {
		kb.u8(1)
	} else {
		kb.u8(0)
	}
}

// marker records the presence or absence of an optional sub-struct.
func (kb *keyBuilder) marker(present bool) {
	if present {
		kb.u8(1)
	} else {
		kb.u8(0)
	}
}

func (kb *keyBuilder) str(s string) {
	kb.u32(uint32(len(s)))
	kb.buf.WriteString(s)
}

// handle consumes the next substituted id, or writes zero when the caller
// supplied fewer ids than the info references.
func (kb *keyBuilder) handle() {
	var id uint64
	if kb.next < len(kb.handles) {
		id = kb.handles[kb.next]
		kb.next++
	}
	kb.u64(id)
}

// Key tags keep keys of different object types disjoint even when the
// serialized fields would collide.
const (
	keyTagDescriptorSetLayout uint8 = iota + 1
	keyTagPipelineLayout
	keyTagSampler
	keyTagRenderPass
	keyTagGraphicsPipeline
	keyTagComputePipeline
)

// buildCacheKey returns the canonical key for a supported create info.
// handles carries the stable ids of every object the info references,
// in field order.
func buildCacheKey(info interface{}, handles []uint64) (string, error) {
	kb := keyBuilder{handles: handles}

	switch ci := info.(type) {
	case *vk.DescriptorSetLayoutCreateInfo:
		kb.descriptorSetLayout(ci)
	case *vk.PipelineLayoutCreateInfo:
		kb.pipelineLayout(ci)
	case *vk.SamplerCreateInfo:
		kb.sampler(ci)
	case *vk.RenderPassCreateInfo:
		kb.renderPass(ci)
	case *vk.GraphicsPipelineCreateInfo:
		kb.graphicsPipeline(ci)
	case *vk.ComputePipelineCreateInfo:
		kb.computePipeline(ci)
	default:
		return "", fmt.Errorf("%w: unsupported create info %T", core.ErrCreation, info)
	}
	return kb.buf.String(), nil
}

func (kb *keyBuilder) descriptorSetLayout(ci *vk.DescriptorSetLayoutCreateInfo) {
	kb.u8(keyTagDescriptorSetLayout)
	kb.u32(uint32(ci.Flags))
	kb.u32(ci.BindingCount)
	for i := range ci.PBindings {
		b := &ci.PBindings[i]
		kb.u32(b.Binding)
		kb.i32(int32(b.DescriptorType))
		kb.u32(b.DescriptorCount)
		kb.u32(uint32(b.StageFlags))
		useImmutable := len(b.PImmutableSamplers) > 0 &&
			(b.DescriptorType == vk.DescriptorTypeSampler || b.DescriptorType == vk.DescriptorTypeCombinedImageSampler)
		kb.marker(useImmutable)
		if useImmutable {
			for range b.PImmutableSamplers {
				kb.handle()
			}
		}
	}
}

func (kb *keyBuilder) pipelineLayout(ci *vk.PipelineLayoutCreateInfo) {
	kb.u8(keyTagPipelineLayout)
	kb.u32(ci.SetLayoutCount)
	for range ci.PSetLayouts {
		kb.handle()
	}
	kb.u32(ci.PushConstantRangeCount)
	for i := range ci.PPushConstantRanges {
		r := &ci.PPushConstantRanges[i]
		kb.u32(uint32(r.StageFlags))
		kb.u32(r.Offset)
		kb.u32(r.Size)
	}
}

func (kb *keyBuilder) sampler(ci *vk.SamplerCreateInfo) {
	kb.u8(keyTagSampler)
	kb.i32(int32(ci.MagFilter))
	kb.i32(int32(ci.MinFilter))
	kb.i32(int32(ci.MipmapMode))
	kb.i32(int32(ci.AddressModeU))
	kb.i32(int32(ci.AddressModeV))
	kb.i32(int32(ci.AddressModeW))
	kb.f32(ci.MipLodBias)
	kb.b(ci.AnisotropyEnable)
	kb.f32(ci.MaxAnisotropy)
	kb.b(ci.CompareEnable)
	kb.i32(int32(ci.CompareOp))
	kb.f32(ci.MinLod)
	kb.f32(ci.MaxLod)
	kb.i32(int32(ci.BorderColor))
	kb.b(ci.UnnormalizedCoordinates)
}

func (kb *keyBuilder) renderPass(ci *vk.RenderPassCreateInfo) {
	kb.u8(keyTagRenderPass)
	kb.u32(ci.AttachmentCount)
	for i := range ci.PAttachments {
		a := &ci.PAttachments[i]
		kb.u32(uint32(a.Flags))
		kb.i32(int32(a.Format))
		kb.i32(int32(a.Samples))
		kb.i32(int32(a.LoadOp))
		kb.i32(int32(a.StoreOp))
		kb.i32(int32(a.StencilLoadOp))
		kb.i32(int32(a.StencilStoreOp))
		kb.i32(int32(a.InitialLayout))
		kb.i32(int32(a.FinalLayout))
	}
	kb.u32(ci.SubpassCount)
	for i := range ci.PSubpasses {
		s := &ci.PSubpasses[i]
		kb.i32(int32(s.PipelineBindPoint))
		kb.u32(s.InputAttachmentCount)
		for j := range s.PInputAttachments {
			kb.attachmentRef(&s.PInputAttachments[j])
		}
		kb.u32(s.ColorAttachmentCount)
		for j := range s.PColorAttachments {
			kb.attachmentRef(&s.PColorAttachments[j])
		}
		kb.marker(len(s.PResolveAttachments) > 0)
		for j := range s.PResolveAttachments {
			kb.attachmentRef(&s.PResolveAttachments[j])
		}
		kb.marker(s.PDepthStencilAttachment != nil)
		if s.PDepthStencilAttachment != nil {
			kb.attachmentRef(s.PDepthStencilAttachment)
		}
		kb.u32(s.PreserveAttachmentCount)
		for _, p := range s.PPreserveAttachments {
			kb.u32(p)
		}
	}
	kb.u32(ci.DependencyCount)
	for i := range ci.PDependencies {
		d := &ci.PDependencies[i]
		kb.u32(d.SrcSubpass)
		kb.u32(d.DstSubpass)
		kb.u32(uint32(d.SrcStageMask))
		kb.u32(uint32(d.DstStageMask))
		kb.u32(uint32(d.SrcAccessMask))
		kb.u32(uint32(d.DstAccessMask))
		kb.u32(uint32(d.DependencyFlags))
	}
}

func (kb *keyBuilder) attachmentRef(r *vk.AttachmentReference) {
	kb.u32(r.Attachment)
	kb.i32(int32(r.Layout))
}

func (kb *keyBuilder) shaderStage(s *vk.PipelineShaderStageCreateInfo) {
	kb.u32(uint32(s.Stage))
	kb.handle()
	kb.str(s.PName)
	// Specialization data participates in the key by value so two
	// specializations of one module stay distinct.
	kb.marker(len(s.PSpecializationInfo) > 0)
	if len(s.PSpecializationInfo) > 0 {
		si := &s.PSpecializationInfo[0]
		kb.u32(si.MapEntryCount)
		for i := range si.PMapEntries {
			e := &si.PMapEntries[i]
			kb.u32(e.ConstantID)
			kb.u32(e.Offset)
			kb.u64(uint64(e.Size))
		}
		kb.u64(si.DataSize)
		if si.PData != nil && si.DataSize > 0 {
			kb.buf.Write(unsafe.Slice((*byte)(si.PData), si.DataSize))
		}
	}
}

func (kb *keyBuilder) graphicsPipeline(ci *vk.GraphicsPipelineCreateInfo) {
	kb.u8(keyTagGraphicsPipeline)
	kb.u32(ci.StageCount)
	for i := range ci.PStages {
		kb.shaderStage(&ci.PStages[i])
	}

	kb.marker(ci.PVertexInputState != nil)
	if vi := ci.PVertexInputState; vi != nil {
		kb.u32(vi.VertexBindingDescriptionCount)
		for i := range vi.PVertexBindingDescriptions {
			b := &vi.PVertexBindingDescriptions[i]
			kb.u32(b.Binding)
			kb.u32(b.Stride)
			kb.i32(int32(b.InputRate))
		}
		kb.u32(vi.VertexAttributeDescriptionCount)
		for i := range vi.PVertexAttributeDescriptions {
			a := &vi.PVertexAttributeDescriptions[i]
			kb.u32(a.Location)
			kb.u32(a.Binding)
			kb.i32(int32(a.Format))
			kb.u32(a.Offset)
		}
	}

	kb.marker(ci.PInputAssemblyState != nil)
	if ia := ci.PInputAssemblyState; ia != nil {
		kb.i32(int32(ia.Topology))
		kb.b(ia.PrimitiveRestartEnable)
	}

	kb.marker(ci.PTessellationState != nil)
	if ts := ci.PTessellationState; ts != nil {
		kb.u32(ts.PatchControlPoints)
	}

	kb.marker(ci.PViewportState != nil)
	if vp := ci.PViewportState; vp != nil {
		kb.u32(vp.ViewportCount)
		for i := range vp.PViewports {
			v := &vp.PViewports[i]
			kb.f32(v.X)
			kb.f32(v.Y)
			kb.f32(v.Width)
			kb.f32(v.Height)
			kb.f32(v.MinDepth)
			kb.f32(v.MaxDepth)
		}
		kb.u32(vp.ScissorCount)
		for i := range vp.PScissors {
			s := &vp.PScissors[i]
			kb.i32(s.Offset.X)
			kb.i32(s.Offset.Y)
			kb.u32(s.Extent.Width)
			kb.u32(s.Extent.Height)
		}
	}

	kb.marker(ci.PRasterizationState != nil)
	if rs := ci.PRasterizationState; rs != nil {
		kb.b(rs.DepthClampEnable)
		kb.b(rs.RasterizerDiscardEnable)
		kb.i32(int32(rs.PolygonMode))
		kb.u32(uint32(rs.CullMode))
		kb.i32(int32(rs.FrontFace))
		kb.b(rs.DepthBiasEnable)
		kb.f32(rs.DepthBiasConstantFactor)
		kb.f32(rs.DepthBiasClamp)
		kb.f32(rs.DepthBiasSlopeFactor)
		kb.f32(rs.LineWidth)
	}

	kb.marker(ci.PMultisampleState != nil)
	if ms := ci.PMultisampleState; ms != nil {
		kb.i32(int32(ms.RasterizationSamples))
		kb.b(ms.SampleShadingEnable)
		kb.f32(ms.MinSampleShading)
		for _, m := range ms.PSampleMask {
			kb.u32(uint32(m))
		}
		kb.b(ms.AlphaToCoverageEnable)
		kb.b(ms.AlphaToOneEnable)
	}

	kb.marker(ci.PDepthStencilState != nil)
	if ds := ci.PDepthStencilState; ds != nil {
		kb.b(ds.DepthTestEnable)
		kb.b(ds.DepthWriteEnable)
		kb.i32(int32(ds.DepthCompareOp))
		kb.b(ds.DepthBoundsTestEnable)
		kb.b(ds.StencilTestEnable)
		kb.stencilOp(&ds.Front)
		kb.stencilOp(&ds.Back)
		kb.f32(ds.MinDepthBounds)
		kb.f32(ds.MaxDepthBounds)
	}

	kb.marker(ci.PColorBlendState != nil)
	if cb := ci.PColorBlendState; cb != nil {
		kb.b(cb.LogicOpEnable)
		kb.i32(int32(cb.LogicOp))
		kb.u32(cb.AttachmentCount)
		for i := range cb.PAttachments {
			a := &cb.PAttachments[i]
			kb.b(a.BlendEnable)
			kb.i32(int32(a.SrcColorBlendFactor))
			kb.i32(int32(a.DstColorBlendFactor))
			kb.i32(int32(a.ColorBlendOp))
			kb.i32(int32(a.SrcAlphaBlendFactor))
			kb.i32(int32(a.DstAlphaBlendFactor))
			kb.i32(int32(a.AlphaBlendOp))
			kb.u32(uint32(a.ColorWriteMask))
		}
		for _, c := range cb.BlendConstants {
			kb.f32(c)
		}
	}

	kb.marker(ci.PDynamicState != nil)
	if dy := ci.PDynamicState; dy != nil {
		kb.u32(dy.DynamicStateCount)
		for _, s := range dy.PDynamicStates {
			kb.i32(int32(s))
		}
	}

	kb.handle() // layout
	kb.handle() // render pass
	kb.u32(ci.Subpass)
}

func (kb *keyBuilder) stencilOp(s *vk.StencilOpState) {
	kb.i32(int32(s.FailOp))
	kb.i32(int32(s.PassOp))
	kb.i32(int32(s.DepthFailOp))
	kb.i32(int32(s.CompareOp))
	kb.u32(s.CompareMask)
	kb.u32(s.WriteMask)
	kb.u32(s.Reference)
}

func (kb *keyBuilder) computePipeline(ci *vk.ComputePipelineCreateInfo) {
	kb.u8(keyTagComputePipeline)
	kb.shaderStage(&ci.Stage)
	kb.handle() // layout
}
