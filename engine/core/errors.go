package core

import (
	"errors"
)

// Failure classes of the renderer. Operations wrap one of these so callers
// can classify with errors.Is without inspecting message text.
var (
	// ErrAllocation covers host or device memory/object exhaustion, e.g. a
	// full descriptor pool or a failed Vulkan object allocation. Generally
	// recoverable by retrying against a fresh backing resource.
	ErrAllocation = errors.New("allocation failed")

	// ErrCreation covers malformed or unsupported creation parameters.
	// Never retried, surfaced immediately.
	ErrCreation = errors.New("object creation failed")

	// ErrCacheIncompatible marks a persisted pipeline cache blob that does
	// not match this device/driver. Non-fatal, the cache starts empty.
	ErrCacheIncompatible = errors.New("pipeline cache incompatible")

	// ErrSynchronization covers fence/semaphore waits and queue submissions
	// gone wrong. Fatal for the renderer instance; the caller must destroy it.
	ErrSynchronization = errors.New("synchronization failed")

	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
)
