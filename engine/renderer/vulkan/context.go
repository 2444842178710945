package vulkan

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

// Queue bundles a device queue with the lock that serializes submissions
// onto it. Vulkan queues are externally synchronized objects.
type Queue struct {
	Handle vk.Queue
	Family uint32

	// Shared between wrappers when two logical roles map onto the same
	// device queue.
	mu *sync.Mutex
}

func (q *Queue) Lock()   { q.mu.Lock() }
func (q *Queue) Unlock() { q.mu.Unlock() }

type ContextOptions struct {
	AppName    string
	Validation bool
	// Extensions the platform needs on top of the surface extensions,
	// typically from platform.GetRequiredExtensionNames.
	PlatformExtensions []string
}

// VulkanContext owns the instance, the chosen physical device and the
// logical device with its queues. One context serves any number of
// renderers and windows.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	PhysicalDevice vk.PhysicalDevice
	Properties     vk.PhysicalDeviceProperties
	Device         vk.Device

	Graphics Queue
	Compute  Queue

	debugMessenger vk.DebugReportCallback
	validation     bool
}

// NewContext initializes the loader, creates an instance and brings up a
// logical device on the preferred physical device.
func NewContext(options ContextOptions) (*VulkanContext, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrCreation)
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	ctx := &VulkanContext{
		Allocator:  nil,
		validation: options.Validation,
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(options.AppName),
		PEngineName:        VulkanSafeString("Helix Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, options.PlatformExtensions...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	layerNames := []string{}
	if ctx.validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName)
		layerNames = append(layerNames, "VK_LAYER_KHRONOS_validation")

		if err := verifyLayers(layerNames); err != nil {
			core.LogWarn("%s, continuing without validation", err)
			layerNames = nil
			ctx.validation = false
			requiredExtensions = requiredExtensions[:len(requiredExtensions)-2]
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layerNames)

	if res := vk.CreateInstance(&createInfo, ctx.Allocator, &ctx.Instance); res != vk.Success {
		return nil, vkError(core.ErrCreation, res, "vkCreateInstance")
	}
	if err := vk.InitInstance(ctx.Instance); err != nil {
		return nil, err
	}
	core.LogInfo("Vulkan instance created")

	if ctx.validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo, ctx.Allocator, &dbg); res != vk.Success {
			core.LogWarn("vkCreateDebugReportCallback failed: %v", vk.Error(res))
		} else {
			ctx.debugMessenger = dbg
		}
	}

	if err := ctx.selectPhysicalDevice(); err != nil {
		ctx.Shutdown()
		return nil, err
	}
	if err := ctx.createLogicalDevice(); err != nil {
		ctx.Shutdown()
		return nil, err
	}
	return ctx, nil
}

// Shutdown destroys the device and instance. All renderers and windows
// created from this context must be gone already.
func (ctx *VulkanContext) Shutdown() {
	if ctx.Device != nil {
		vk.DeviceWaitIdle(ctx.Device)
		vk.DestroyDevice(ctx.Device, ctx.Allocator)
		ctx.Device = nil
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

// WaitIdle blocks until the device finished all submitted work, holding
// the queue locks so no submission races the wait.
func (ctx *VulkanContext) WaitIdle() {
	ctx.Graphics.Lock()
	if ctx.Compute.mu != ctx.Graphics.mu {
		ctx.Compute.Lock()
		defer ctx.Compute.Unlock()
	}
	defer ctx.Graphics.Unlock()
	vk.DeviceWaitIdle(ctx.Device)
}

func verifyLayers(required []string) error {
	var availableCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, nil); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkEnumerateInstanceLayerProperties")
	}
	available := make([]vk.LayerProperties, availableCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableCount, available); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkEnumerateInstanceLayerProperties")
	}

	for _, want := range required {
		found := false
		for j := range available {
			available[j].Deref()
			end := clen(available[j].LayerName[:])
			if want == vk.ToString(available[j].LayerName[:end+1]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s", want)
		}
	}
	return nil
}

func clen(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

// deviceTypeRank orders physical device types by preference, lower is
// better.
func deviceTypeRank(t vk.PhysicalDeviceType) int {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 0
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 1
	case vk.PhysicalDeviceTypeVirtualGpu:
		return 2
	case vk.PhysicalDeviceTypeCpu:
		return 3
	default:
		return 4
	}
}

// selectPhysicalDevice picks the preferred device under a total order, so
// the same machine always yields the same choice.
func (ctx *VulkanContext) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(ctx.Instance, &count, nil); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkEnumeratePhysicalDevices")
	}
	if count == 0 {
		return fmt.Errorf("%w: no Vulkan capable devices found", core.ErrCreation)
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(ctx.Instance, &count, devices); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkEnumeratePhysicalDevices")
	}

	type candidate struct {
		device vk.PhysicalDevice
		props  vk.PhysicalDeviceProperties
	}
	candidates := make([]candidate, 0, count)
	for _, d := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(d, &props)
		props.Deref()
		props.Limits.Deref()
		candidates = append(candidates, candidate{device: d, props: props})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].props, candidates[j].props
		if ra, rb := deviceTypeRank(a.DeviceType), deviceTypeRank(b.DeviceType); ra != rb {
			return ra < rb
		}
		if a.ApiVersion != b.ApiVersion {
			return a.ApiVersion > b.ApiVersion
		}
		if a.VendorID != b.VendorID {
			return a.VendorID < b.VendorID
		}
		return a.DeviceID < b.DeviceID
	})

	chosen := candidates[0]
	ctx.PhysicalDevice = chosen.device
	ctx.Properties = chosen.props

	end := clen(chosen.props.DeviceName[:])
	core.LogInfo("Selected device: %s", string(chosen.props.DeviceName[:end]))
	return nil
}

// createLogicalDevice brings up the logical device with a graphics queue
// and, when the hardware has a dedicated compute family, a separate
// compute queue. Present always shares the graphics queue.
func (ctx *VulkanContext) createLogicalDevice() error {
	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(ctx.PhysicalDevice, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(ctx.PhysicalDevice, &familyCount, families)

	graphicsFamily := -1
	computeFamily := -1
	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		if graphicsFamily < 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphicsFamily = i
		}
		// Prefer an async compute family over sharing with graphics.
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			if computeFamily < 0 || flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 &&
				families[computeFamily].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				computeFamily = i
			}
		}
	}
	if graphicsFamily < 0 {
		return fmt.Errorf("%w: no graphics queue family", core.ErrCreation)
	}
	if computeFamily < 0 {
		computeFamily = graphicsFamily
	}

	indices := []uint32{uint32(graphicsFamily)}
	if computeFamily != graphicsFamily {
		indices = append(indices, uint32(computeFamily))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range queueCreateInfos {
		queueCreateInfos[i].SType = vk.StructureTypeDeviceQueueCreateInfo
		queueCreateInfos[i].QueueFamilyIndex = indices[i]
		queueCreateInfos[i].QueueCount = 1
		queueCreateInfos[i].PQueuePriorities = []float32{1.0}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	deviceFeatures.SamplerAnisotropy = vk.True

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if portabilitySubsetPresent(ctx.PhysicalDevice) {
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(ctx.PhysicalDevice, &deviceCreateInfo, ctx.Allocator, &ctx.Device); res != vk.Success {
		return vkError(core.ErrCreation, res, "vkCreateDevice")
	}
	core.LogInfo("Logical device created")

	ctx.Graphics.Family = uint32(graphicsFamily)
	ctx.Graphics.mu = &sync.Mutex{}
	ctx.Compute.Family = uint32(computeFamily)
	vk.GetDeviceQueue(ctx.Device, ctx.Graphics.Family, 0, &ctx.Graphics.Handle)
	if computeFamily != graphicsFamily {
		vk.GetDeviceQueue(ctx.Device, ctx.Compute.Family, 0, &ctx.Compute.Handle)
		ctx.Compute.mu = &sync.Mutex{}
	} else {
		// Same device queue, so submissions from both roles serialize on
		// one lock.
		ctx.Compute.Handle = ctx.Graphics.Handle
		ctx.Compute.mu = ctx.Graphics.mu
	}
	return nil
}

func portabilitySubsetPresent(device vk.PhysicalDevice) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		end := clen(available[i].ExtensionName[:])
		if vk.ToString(available[i].ExtensionName[:end+1]) == "VK_KHR_portability_subset" {
			return true
		}
	}
	return false
}
