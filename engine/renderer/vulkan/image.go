package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// VulkanImage is a device local image the renderer allocated itself, used
// as the backing of non-window attachments.
type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	Width  uint32
	Height uint32
}

// ImageCreate allocates a device local image and binds fresh memory to it.
func ImageCreate(ctx *VulkanContext, desc AttachmentDesc) (*VulkanImage, error) {
	layers := Max(desc.Layers, 1)
	mipmaps := Max(desc.Mipmaps, 1)
	samples := desc.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}

	imageInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        desc.Format,
		Extent:        vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     mipmaps,
		ArrayLayers:   layers,
		Samples:       samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         desc.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	image := &VulkanImage{Width: desc.Width, Height: desc.Height}
	if res := vk.CreateImage(ctx.Device, &imageInfo, ctx.Allocator, &image.Handle); res != vk.Success {
		return nil, vkError(core.ErrCreation, res, "vkCreateImage")
	}

	var memReq vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.Device, image.Handle, &memReq)
	memReq.Deref()

	memoryIndex := ctx.FindMemoryIndex(memReq.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		vk.DestroyImage(ctx.Device, image.Handle, ctx.Allocator)
		return nil, fmt.Errorf("%w: no device local memory type for image", core.ErrAllocation)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(ctx.Device, &allocInfo, ctx.Allocator, &image.Memory); res != vk.Success {
		vk.DestroyImage(ctx.Device, image.Handle, ctx.Allocator)
		return nil, vkError(core.ErrAllocation, res, "vkAllocateMemory")
	}
	if res := vk.BindImageMemory(ctx.Device, image.Handle, image.Memory, 0); res != vk.Success {
		image.ImageDestroy(ctx)
		return nil, vkError(core.ErrAllocation, res, "vkBindImageMemory")
	}
	return image, nil
}

func (vi *VulkanImage) ImageDestroy(ctx *VulkanContext) {
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(ctx.Device, vi.Memory, ctx.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(ctx.Device, vi.Handle, ctx.Allocator)
		vi.Handle = vk.NullImage
	}
}

// FindMemoryIndex returns the first memory type matching the filter and
// property flags, or -1.
func (ctx *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(ctx.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
