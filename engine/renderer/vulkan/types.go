package vulkan

import (
	vk "github.com/goki/vulkan"
)

// AccessMask describes how a pass touches an attachment. Masks combine,
// e.g. AccessAttachmentRead|AccessAttachmentWrite for a blended target.
type AccessMask uint32

const (
	AccessAttachmentRead AccessMask = 1 << iota
	AccessAttachmentWrite
	AccessAttachmentInput
	AccessAttachmentResolve
	AccessSampledRead
	AccessStorageRead
	AccessStorageWrite
	AccessTransferRead
	AccessTransferWrite
	// AccessDiscard signals the previous contents are not needed; the
	// attachment may be cleared or left undefined on load.
	AccessDiscard
)

// Writes reports whether the mask contains any writing access.
func (m AccessMask) Writes() bool {
	return m&(AccessAttachmentWrite|AccessAttachmentResolve|AccessStorageWrite|AccessTransferWrite) != 0
}

// Reads reports whether the mask contains any reading access.
func (m AccessMask) Reads() bool {
	return m&(AccessAttachmentRead|AccessAttachmentInput|AccessSampledRead|AccessStorageRead|AccessTransferRead) != 0
}

// ShaderStage narrows an access down to the pipeline stages that perform it.
// A zero value means "all stages that could".
type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageTessControl
	StageTessEvaluation
	StageGeometry
	StageFragment
	StageCompute
	StageAny ShaderStage = 0
)

// ImageAspect selects the planes of an attachment a range refers to.
type ImageAspect uint32

const (
	AspectColor ImageAspect = 1 << iota
	AspectDepth
	AspectStencil
)

func (a ImageAspect) toVk() vk.ImageAspectFlags {
	var flags vk.ImageAspectFlags
	if a&AspectColor != 0 {
		flags |= vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if a&AspectDepth != 0 {
		flags |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if a&AspectStencil != 0 {
		flags |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return flags
}

// Range selects a subresource region of an attachment. A zero NumMipmaps or
// NumLayers means "all remaining from the base".
type Range struct {
	Aspect     ImageAspect
	Mipmap     uint32
	NumMipmaps uint32
	Layer      uint32
	NumLayers  uint32
}

// WholeImage covers every mip and layer of the color aspect.
func WholeImage() Range {
	return Range{Aspect: AspectColor}
}

// RecreateFlags accumulate what happened to a window attachment's backing
// between two frames.
type RecreateFlags uint32

const (
	// FlagRecreate means the swapchain images were replaced and any
	// view or framebuffer referencing them is stale.
	FlagRecreate RecreateFlags = 1 << iota
	// FlagResize means the dimensions changed as well.
	FlagResize
	// FlagReformat means the image format changed as well.
	FlagReformat

	FlagRecreateAll = FlagRecreate | FlagResize | FlagReformat
)

// BlendState is the per-attachment blend sidecar of a consumption.
type BlendState struct {
	Enable         bool
	SrcColorFactor vk.BlendFactor
	DstColorFactor vk.BlendFactor
	ColorOp        vk.BlendOp
	SrcAlphaFactor vk.BlendFactor
	DstAlphaFactor vk.BlendFactor
	AlphaOp        vk.BlendOp
}

// AttachmentDesc describes an image attachment the renderer allocates and
// owns itself, as opposed to a window attachment backed by a swapchain.
type AttachmentDesc struct {
	Format  vk.Format
	Usage   vk.ImageUsageFlags
	Width   uint32
	Height  uint32
	Layers  uint32
	Mipmaps uint32
	Samples vk.SampleCountFlagBits
}
