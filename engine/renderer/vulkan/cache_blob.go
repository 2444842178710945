package vulkan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaolacci/murmur3"

	"github.com/spaghettifunk/helix/engine/core"
)

// Pipeline cache blobs carry a header so a blob from another device,
// driver or build is rejected instead of handed to the driver.
const blobMagic uint32 = 0xff60af14

type blobHeader struct {
	Magic         uint32
	DataSize      uint32
	DataHash      uint64
	VendorID      uint32
	DeviceID      uint32
	DriverVersion uint32
	DriverABI     uint32
	CacheUUID     [16]byte
}

const blobHeaderSize = 4 + 4 + 8 + 4 + 4 + 4 + 4 + 16

func (c *ObjectCache) blobHeader(dataSize uint32, dataHash uint64) blobHeader {
	return blobHeader{
		Magic:         blobMagic,
		DataSize:      dataSize,
		DataHash:      dataHash,
		VendorID:      c.ctx.Properties.VendorID,
		DeviceID:      c.ctx.Properties.DeviceID,
		DriverVersion: c.ctx.Properties.DriverVersion,
		DriverABI:     uint32(unsafe.Sizeof(uintptr(0))),
		CacheUUID:     c.ctx.Properties.PipelineCacheUUID,
	}
}

// StorePipelineCache writes the driver's pipeline cache data to w,
// prefixed with the compatibility header.
func (c *ObjectCache) StorePipelineCache(w io.Writer) error {
	var size uint64
	if res := vk.GetPipelineCacheData(c.ctx.Device, c.vkCache, &size, nil); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkGetPipelineCacheData")
	}
	data := make([]byte, size)
	if size > 0 {
		if res := vk.GetPipelineCacheData(c.ctx.Device, c.vkCache, &size, unsafe.Pointer(&data[0])); res != vk.Success {
			return vkError(core.ErrUnknown, res, "vkGetPipelineCacheData")
		}
		data = data[:size]
	}

	header := c.blobHeader(uint32(len(data)), murmur3.Sum64(data))
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	core.LogDebug("Stored pipeline cache, %d bytes", len(data))
	return nil
}

// LoadPipelineCache reads a blob written by StorePipelineCache and merges
// it into the cache. A blob from a different device or driver fails with
// ErrCacheIncompatible.
func (c *ObjectCache) LoadPipelineCache(r io.Reader) error {
	var header blobHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: truncated pipeline cache header: %v", core.ErrCacheIncompatible, err)
	}
	if header.Magic != blobMagic {
		return fmt.Errorf("%w: bad magic", core.ErrCacheIncompatible)
	}
	expect := c.blobHeader(header.DataSize, header.DataHash)
	if header != expect {
		return fmt.Errorf("%w: cache was built for a different device or driver", core.ErrCacheIncompatible)
	}

	data := make([]byte, header.DataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("%w: truncated pipeline cache data: %v", core.ErrCacheIncompatible, err)
	}
	if murmur3.Sum64(data) != header.DataHash {
		return fmt.Errorf("%w: pipeline cache data is corrupt", core.ErrCacheIncompatible)
	}

	cacheInfo := vk.PipelineCacheCreateInfo{
		SType:           vk.StructureTypePipelineCacheCreateInfo,
		InitialDataSize: uint64(len(data)),
	}
	if len(data) > 0 {
		cacheInfo.PInitialData = unsafe.Pointer(&data[0])
	}

	var loaded vk.PipelineCache
	if res := vk.CreatePipelineCache(c.ctx.Device, &cacheInfo, c.ctx.Allocator, &loaded); res != vk.Success {
		return vkError(core.ErrCacheIncompatible, res, "vkCreatePipelineCache")
	}
	defer vk.DestroyPipelineCache(c.ctx.Device, loaded, c.ctx.Allocator)

	if res := vk.MergePipelineCaches(c.ctx.Device, c.vkCache, 1, []vk.PipelineCache{loaded}); res != vk.Success {
		return vkError(core.ErrUnknown, res, "vkMergePipelineCaches")
	}
	core.LogDebug("Loaded pipeline cache, %d bytes", len(data))
	return nil
}

// encodeBlobHeader exists for tests and tooling that inspect blobs
// without a device.
func encodeBlobHeader(h blobHeader) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &h)
	return buf.Bytes()
}
