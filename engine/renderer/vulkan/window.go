package vulkan

import (
	"fmt"
	"math"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
	"github.com/spaghettifunk/helix/engine/platform"
)

// Window couples a platform window to a surface and its swapchain. A
// window can back at most one renderer attachment at a time.
type Window struct {
	ctx      *VulkanContext
	platform *platform.Platform

	surface     vk.Surface
	swapchain   vk.Swapchain
	format      vk.SurfaceFormat
	extent      vk.Extent2D
	presentMode vk.PresentMode
	images      []vk.Image
	views       []vk.ImageView

	// Flags accumulated since the last acquire, picked up and cleared by
	// the renderer during frame synchronization.
	flags RecreateFlags

	attached atomic.Bool
}

// NewWindow creates the surface and an initial swapchain for the platform
// window.
func NewWindow(ctx *VulkanContext, p *platform.Platform) (*Window, error) {
	surfacePtr, err := p.Window.CreateWindowSurface(ctx.Instance, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create window surface: %v", core.ErrCreation, err)
	}

	w := &Window{
		ctx:      ctx,
		platform: p,
		surface:  vk.SurfaceFromPointer(surfacePtr),
	}

	var supported vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(ctx.PhysicalDevice, ctx.Graphics.Family, w.surface, &supported)
	if supported != vk.True {
		w.Destroy()
		return nil, fmt.Errorf("%w: graphics queue family cannot present to this surface", core.ErrCreation)
	}

	if err := w.createSwapchain(); err != nil {
		w.Destroy()
		return nil, err
	}
	return w, nil
}

// Destroy tears the swapchain and surface down. The window must be
// detached from any renderer first.
func (w *Window) Destroy() {
	vk.DeviceWaitIdle(w.ctx.Device)
	w.destroySwapchainResources()
	if w.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(w.ctx.Device, w.swapchain, w.ctx.Allocator)
		w.swapchain = vk.NullSwapchain
	}
	if w.surface != vk.NullSurface {
		vk.DestroySurface(w.ctx.Instance, w.surface, w.ctx.Allocator)
		w.surface = vk.NullSurface
	}
}

// Format returns the current swapchain image format.
func (w *Window) Format() vk.Format { return w.format.Format }

// Extent returns the current swapchain dimensions.
func (w *Window) Extent() (uint32, uint32) { return w.extent.Width, w.extent.Height }

// Views returns one view per swapchain image.
func (w *Window) Views() []vk.ImageView { return w.views }

func (w *Window) claim() bool     { return w.attached.CompareAndSwap(false, true) }
func (w *Window) release()        { w.attached.Store(false) }
func (w *Window) imageCount() int { return len(w.images) }

// acquire grabs the next swapchain image, recreating the swapchain when
// it went out of date. Returns the image index plus all recreate flags
// raised since the previous acquire.
func (w *Window) acquire(available vk.Semaphore) (uint32, RecreateFlags, error) {
	flags := w.flags
	w.flags = 0

	for attempt := 0; ; attempt++ {
		var index uint32
		res := vk.AcquireNextImage(w.ctx.Device, w.swapchain, math.MaxUint64, available, vk.NullFence, &index)

		switch {
		case res == vk.Success:
			return index, flags, nil
		case res == vk.Suboptimal:
			// Usable, but flag the swapchain for recreation next frame.
			w.flags |= FlagRecreate
			return index, flags, nil
		case res == vk.ErrorOutOfDate && attempt == 0:
			rec, err := w.recreate()
			if err != nil {
				return 0, flags, err
			}
			flags |= rec
		default:
			return 0, flags, vkError(core.ErrSynchronization, res, "vkAcquireNextImageKHR")
		}
	}
}

// recreate builds a new swapchain against the current surface state and
// reports what changed.
func (w *Window) recreate() (RecreateFlags, error) {
	vk.DeviceWaitIdle(w.ctx.Device)

	oldFormat := w.format
	oldExtent := w.extent

	if err := w.createSwapchain(); err != nil {
		return 0, err
	}

	flags := FlagRecreate
	if w.extent.Width != oldExtent.Width || w.extent.Height != oldExtent.Height {
		flags |= FlagResize
	}
	if w.format.Format != oldFormat.Format || w.format.ColorSpace != oldFormat.ColorSpace {
		flags |= FlagReformat
	}
	return flags, nil
}

func (w *Window) destroySwapchainResources() {
	for _, view := range w.views {
		vk.DestroyImageView(w.ctx.Device, view, w.ctx.Allocator)
	}
	w.views = nil
	w.images = nil
}

func (w *Window) createSwapchain() error {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(w.ctx.PhysicalDevice, w.surface, &caps); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkGetPhysicalDeviceSurfaceCapabilitiesKHR")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(w.ctx.PhysicalDevice, w.surface, &formatCount, nil)
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(w.ctx.PhysicalDevice, w.surface, &formatCount, formats)

	var presentModeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(w.ctx.PhysicalDevice, w.surface, &presentModeCount, nil)
	presentModes := make([]vk.PresentMode, presentModeCount)
	vk.GetPhysicalDeviceSurfacePresentModes(w.ctx.PhysicalDevice, w.surface, &presentModeCount, presentModes)

	if formatCount == 0 {
		return fmt.Errorf("%w: surface reports no formats", core.ErrCreation)
	}

	format := formats[0]
	format.Deref()
	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm && formats[i].ColorSpace == vk.ColorSpaceSrgbNonlinear {
			format = formats[i]
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range presentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	extent := caps.CurrentExtent
	if extent.Width == math.MaxUint32 {
		fbWidth, fbHeight := w.platform.FramebufferExtent()
		extent.Width = Min(Max(fbWidth, caps.MinImageExtent.Width), caps.MaxImageExtent.Width)
		extent.Height = Min(Max(fbHeight, caps.MinImageExtent.Height), caps.MaxImageExtent.Height)
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	oldSwapchain := w.swapchain
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          w.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     oldSwapchain,
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(w.ctx.Device, &swapchainCreateInfo, w.ctx.Allocator, &handle); res != vk.Success {
		return vkError(core.ErrCreation, res, "vkCreateSwapchainKHR")
	}

	w.destroySwapchainResources()
	if oldSwapchain != vk.NullSwapchain {
		vk.DestroySwapchain(w.ctx.Device, oldSwapchain, w.ctx.Allocator)
	}

	w.swapchain = handle
	w.format = format
	w.extent = extent
	w.presentMode = presentMode

	var count uint32
	if res := vk.GetSwapchainImages(w.ctx.Device, w.swapchain, &count, nil); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkGetSwapchainImagesKHR")
	}
	w.images = make([]vk.Image, count)
	if res := vk.GetSwapchainImages(w.ctx.Device, w.swapchain, &count, w.images); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkGetSwapchainImagesKHR")
	}

	w.views = make([]vk.ImageView, count)
	for i := range w.images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    w.images[i],
			ViewType: vk.ImageViewType2d,
			Format:   w.format.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if res := vk.CreateImageView(w.ctx.Device, &viewInfo, w.ctx.Allocator, &w.views[i]); res != vk.Success {
			return vkError(core.ErrCreation, res, "vkCreateImageView")
		}
	}

	core.LogDebug("Swapchain created: %dx%d, %d images", extent.Width, extent.Height, count)
	return nil
}

// presentWindows hands a batch of images back in one vkQueuePresentKHR
// call, folding per swapchain results into pending recreate flags.
func presentWindows(queue *Queue, windows []*Window, indices []uint32, wait []vk.Semaphore) error {
	if len(windows) == 0 {
		return nil
	}

	swapchains := make([]vk.Swapchain, len(windows))
	for i, w := range windows {
		swapchains[i] = w.swapchain
	}
	results := make([]vk.Result, len(windows))

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(wait)),
		PWaitSemaphores:    wait,
		SwapchainCount:     uint32(len(swapchains)),
		PSwapchains:        swapchains,
		PImageIndices:      indices,
		PResults:           results,
	}

	queue.Lock()
	res := vk.QueuePresent(queue.Handle, &presentInfo)
	queue.Unlock()

	if res != vk.Success && res != vk.Suboptimal && res != vk.ErrorOutOfDate {
		return vkError(core.ErrSynchronization, res, "vkQueuePresentKHR")
	}

	for i, w := range windows {
		switch results[i] {
		case vk.ErrorOutOfDate, vk.Suboptimal:
			w.flags |= FlagRecreate
		}
	}
	return nil
}
