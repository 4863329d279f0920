package vkr

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// GenerateMipChain fills mip levels above 0 by blitting each level from
// the one before it, halving dimensions and clamping at 1. A no-op for
// single-mip textures. Level 0 must have been uploaded first; calling this
// on an untouched texture is a programming error and panics. The call is
// synchronous: it waits for outstanding transfers, then for its own blit
// chain.
func (t *Texture) GenerateMipChain() error {
	if t.desc.NumMipLevels <= 1 {
		return nil
	}
	if t.layout == core1_0.ImageLayoutUndefined {
		panic("vkr: GenerateMipChain called before any data was uploaded to mip level 0")
	}

	properties := t.ctx.instanceDriver.GetPhysicalDeviceFormatProperties(t.ctx.physicalDevice, t.vkFormat)
	if properties.OptimalTilingFeatures&core1_0.FormatFeatureSampledImageFilterLinear == 0 {
		return markf(ErrUnsupportedOperation, "format %s does not support linear blitting", t.vkFormat)
	}

	// The blits read each level right after writing it, so level 0's
	// upload must have fully landed.
	if err := t.ctx.staging.WaitIdle(); err != nil {
		return err
	}

	start := hrtime.Now()

	commandBuffer, err := t.ctx.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	layers := t.totalLayers()

	// Re-stage the whole image as a transfer destination; the per-level
	// barriers below flip each level to a blit source once it is written.
	err = recordImageBarrier(t.ctx.deviceDriver, commandBuffer, t.image, t.aspect,
		t.layout, core1_0.ImageLayoutTransferDstOptimal, t.desc.NumMipLevels, layers)
	if err != nil {
		t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
		return err
	}

	barrier := core1_0.ImageMemoryBarrier{
		Image:               t.image,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     t.aspect,
			BaseArrayLayer: 0,
			LayerCount:     layers,
			LevelCount:     1,
		},
	}

	mipWidth := t.desc.Width
	mipHeight := t.desc.Height
	for i := 1; i < t.desc.NumMipLevels; i++ {
		barrier.SubresourceRange.BaseMipLevel = i - 1
		barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
		barrier.NewLayout = core1_0.ImageLayoutTransferSrcOptimal
		barrier.SrcAccessMask = core1_0.AccessTransferWrite
		barrier.DstAccessMask = core1_0.AccessTransferRead

		err = t.ctx.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageTransfer, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
		if err != nil {
			t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
			return err
		}

		nextMipWidth := mipWidth
		nextMipHeight := mipHeight
		if nextMipWidth > 1 {
			nextMipWidth /= 2
		}
		if nextMipHeight > 1 {
			nextMipHeight /= 2
		}

		err = t.ctx.deviceDriver.CmdBlitImage(commandBuffer, t.image, core1_0.ImageLayoutTransferSrcOptimal, t.image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
			{
				SrcSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     t.aspect,
					MipLevel:       i - 1,
					BaseArrayLayer: 0,
					LayerCount:     layers,
				},
				SrcOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: mipWidth, Y: mipHeight, Z: 1},
				},

				DstSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     t.aspect,
					MipLevel:       i,
					BaseArrayLayer: 0,
					LayerCount:     layers,
				},
				DstOffsets: [2]core1_0.Offset3D{
					{X: 0, Y: 0, Z: 0},
					{X: nextMipWidth, Y: nextMipHeight, Z: 1},
				},
			},
		}, core1_0.FilterLinear)
		if err != nil {
			t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
			return err
		}

		barrier.OldLayout = core1_0.ImageLayoutTransferSrcOptimal
		barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
		barrier.SrcAccessMask = core1_0.AccessTransferRead
		barrier.DstAccessMask = core1_0.AccessShaderRead

		err = t.ctx.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
		if err != nil {
			t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
			return err
		}

		mipWidth = nextMipWidth
		mipHeight = nextMipHeight
	}

	barrier.SubresourceRange.BaseMipLevel = t.desc.NumMipLevels - 1
	barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
	barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
	barrier.SrcAccessMask = core1_0.AccessTransferWrite
	barrier.DstAccessMask = core1_0.AccessShaderRead

	err = t.ctx.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
	if err != nil {
		t.ctx.deviceDriver.FreeCommandBuffers(commandBuffer)
		return err
	}

	err = t.ctx.endSingleTimeCommands(commandBuffer)
	if err != nil {
		return errors.Wrap(err, "submitting mip chain generation")
	}
	t.layout = core1_0.ImageLayoutShaderReadOnlyOptimal

	t.ctx.logger.Debug("generated mip chain",
		slog.String("texture", t.desc.DebugName),
		slog.Int("levels", t.desc.NumMipLevels),
		slog.Duration("took", hrtime.Since(start)))
	return nil
}
