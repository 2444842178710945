package vulkan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaolacci/murmur3"

	"github.com/spaghettifunk/helix/engine/core"
)

func TestBlobHeaderSize(t *testing.T) {
	encoded := encodeBlobHeader(blobHeader{})
	if len(encoded) != blobHeaderSize {
		t.Fatalf("encoded header is %d bytes, size constant says %d", len(encoded), blobHeaderSize)
	}
}

func TestLoadPipelineCacheRejectsBadBlobs(t *testing.T) {
	c := newObjectCacheBare(&VulkanContext{})

	// Truncated header.
	err := c.LoadPipelineCache(bytes.NewReader([]byte{1, 2, 3}))
	if !errors.Is(err, core.ErrCacheIncompatible) {
		t.Fatalf("truncated header: %v", err)
	}

	// Wrong magic.
	bad := c.blobHeader(0, 0)
	bad.Magic = 0xdeadbeef
	err = c.LoadPipelineCache(bytes.NewReader(encodeBlobHeader(bad)))
	if !errors.Is(err, core.ErrCacheIncompatible) {
		t.Fatalf("bad magic: %v", err)
	}

	// Blob from another device.
	other := c.blobHeader(0, 0)
	other.VendorID = 0x10de
	err = c.LoadPipelineCache(bytes.NewReader(encodeBlobHeader(other)))
	if !errors.Is(err, core.ErrCacheIncompatible) {
		t.Fatalf("foreign device: %v", err)
	}

	// Truncated data.
	short := c.blobHeader(16, murmur3.Sum64(nil))
	err = c.LoadPipelineCache(bytes.NewReader(encodeBlobHeader(short)))
	if !errors.Is(err, core.ErrCacheIncompatible) {
		t.Fatalf("truncated data: %v", err)
	}

	// Corrupt data.
	payload := []byte("not the bytes that were hashed")
	corrupt := c.blobHeader(uint32(len(payload)), murmur3.Sum64([]byte("original")))
	blob := append(encodeBlobHeader(corrupt), payload...)
	err = c.LoadPipelineCache(bytes.NewReader(blob))
	if !errors.Is(err, core.ErrCacheIncompatible) {
		t.Fatalf("corrupt data: %v", err)
	}
}
