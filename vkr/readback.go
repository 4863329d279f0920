package vkr

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Download reads the addressed region back into host memory, tightly
// packed, layer after layer. One mip level per call. The call is
// synchronous: it waits for outstanding transfers before copying and for
// its own copy before returning.
func (t *Texture) Download(r UploadRange) ([]byte, error) {
	r, err := t.validateRange(r)
	if err != nil {
		return nil, err
	}
	if r.NumMipLevels != 1 {
		return nil, markf(ErrUnsupportedOperation, "readback works one mip level at a time, got a span of %d", r.NumMipLevels)
	}
	if t.layout == core1_0.ImageLayoutUndefined {
		return nil, markf(ErrUnsupportedOperation, "readback of a texture that was never written")
	}

	if err := t.ctx.staging.WaitIdle(); err != nil {
		return nil, err
	}

	size := t.desc.Format.SliceBytes(r.Width, r.Height, r.Depth, 0) * r.NumLayers

	buffer, _, err := t.ctx.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       core1_0.BufferUsageTransferDst,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating readback buffer")
	}
	defer t.ctx.deviceDriver.DestroyBuffer(buffer, nil)

	memReqs := t.ctx.deviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := t.ctx.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}

	memory, _, err := t.ctx.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocating readback memory")
	}
	defer t.ctx.deviceDriver.FreeMemory(memory, nil)

	_, err = t.ctx.deviceDriver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		return nil, err
	}

	commandBuffer, err := t.ctx.beginSingleTimeCommands()
	if err != nil {
		return nil, err
	}

	restoreLayout := t.layout
	err = recordImageBarrier(t.ctx.deviceDriver, commandBuffer, t.image, t.aspect,
		t.layout, core1_0.ImageLayoutTransferSrcOptimal, t.desc.NumMipLevels, t.totalLayers())
	if err != nil {
		t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
		return nil, err
	}

	err = t.ctx.deviceDriver.CmdCopyImageToBuffer(commandBuffer, t.image, core1_0.ImageLayoutTransferSrcOptimal, buffer,
		core1_0.BufferImageCopy{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     t.aspect,
				MipLevel:       r.MipLevel,
				BaseArrayLayer: r.Layer,
				LayerCount:     r.NumLayers,
			},
			ImageOffset: core1_0.Offset3D{X: r.X, Y: r.Y, Z: r.Z},
			ImageExtent: core1_0.Extent3D{Width: r.Width, Height: r.Height, Depth: r.Depth},
		},
	)
	if err != nil {
		t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
		return nil, err
	}

	err = recordImageBarrier(t.ctx.deviceDriver, commandBuffer, t.image, t.aspect,
		core1_0.ImageLayoutTransferSrcOptimal, restoreLayout, t.desc.NumMipLevels, t.totalLayers())
	if err != nil {
		t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
		return nil, err
	}

	err = t.ctx.endSingleTimeCommands(commandBuffer)
	if err != nil {
		return nil, errors.Wrap(err, "submitting readback")
	}

	ptr, _, err := t.ctx.deviceDriver.MapMemory(memory, 0, size, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mapping readback memory")
	}
	defer t.ctx.deviceDriver.UnmapMemory(memory)

	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(ptr), size))
	return out, nil
}
