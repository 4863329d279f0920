package vkr

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const (
	stagingRegionCount     = 4
	stagingRegionAlignment = 16
)

// stagingRegion is one slot of partitioned staging memory. At most one
// transfer occupies a region at a time; reuse waits on its fence.
type stagingRegion struct {
	offset int

	fence     core1_0.Fence
	semaphore core1_0.Semaphore
	cmdBuffer core1_0.CommandBuffer
	inFlight  bool
}

// StagingDevice owns the reusable host-visible bounce buffer every upload
// and readback goes through, plus the transfer command stream. All public
// methods serialize on an internal lock; uploads to different textures from
// multiple goroutines contend only here.
type StagingDevice struct {
	ctx *DeviceContext

	mu        sync.Mutex
	buffer    core1_0.Buffer
	memory    core1_0.DeviceMemory
	mapped    []byte
	mappedPtr unsafe.Pointer

	regionSize int
	regions    [stagingRegionCount]stagingRegion
	next       int

	lastSemaphore core1_0.Semaphore
}

func newStagingDevice(ctx *DeviceContext, totalSize int) (*StagingDevice, error) {
	s := &StagingDevice{ctx: ctx}
	if err := s.createBuffer(alignUp(totalSize/stagingRegionCount, stagingRegionAlignment)); err != nil {
		return nil, err
	}
	return s, nil
}

func alignUp(v, alignment int) int {
	return (v + alignment - 1) / alignment * alignment
}

// createBuffer allocates and persistently maps the bounce buffer. Called at
// construction and again on growth, after all regions have retired.
func (s *StagingDevice) createBuffer(regionSize int) error {
	totalSize := regionSize * stagingRegionCount

	buffer, _, err := s.ctx.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        totalSize,
		Usage:       core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return errors.Wrap(err, "creating staging buffer")
	}

	memReqs := s.ctx.deviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := s.ctx.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		s.ctx.deviceDriver.DestroyBuffer(buffer, nil)
		return err
	}

	memory, _, err := s.ctx.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		s.ctx.deviceDriver.DestroyBuffer(buffer, nil)
		return errors.Wrap(err, "allocating staging memory")
	}

	_, err = s.ctx.deviceDriver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		s.ctx.deviceDriver.DestroyBuffer(buffer, nil)
		s.ctx.deviceDriver.FreeMemory(memory, nil)
		return errors.Wrap(err, "binding staging memory")
	}

	ptr, _, err := s.ctx.deviceDriver.MapMemory(memory, 0, totalSize, 0)
	if err != nil {
		s.ctx.deviceDriver.DestroyBuffer(buffer, nil)
		s.ctx.deviceDriver.FreeMemory(memory, nil)
		return errors.Wrap(err, "mapping staging memory")
	}

	s.buffer = buffer
	s.memory = memory
	s.mappedPtr = ptr
	s.mapped = unsafe.Slice((*byte)(ptr), totalSize)
	s.regionSize = regionSize
	for i := range s.regions {
		s.regions[i].offset = i * regionSize
	}
	s.next = 0
	return nil
}

func (s *StagingDevice) releaseBuffer() {
	if s.memory.Initialized() {
		s.ctx.deviceDriver.UnmapMemory(s.memory)
	}
	if s.buffer.Initialized() {
		s.ctx.deviceDriver.DestroyBuffer(s.buffer, nil)
		s.buffer = core1_0.Buffer{}
	}
	if s.memory.Initialized() {
		s.ctx.deviceDriver.FreeMemory(s.memory, nil)
		s.memory = core1_0.DeviceMemory{}
	}
	s.mapped = nil
	s.mappedPtr = nil
}

// retireRegion blocks until the region's submitted transfer has completed,
// then releases the per-submission objects.
func (s *StagingDevice) retireRegion(r *stagingRegion) error {
	if !r.inFlight {
		return nil
	}

	_, err := s.ctx.deviceDriver.WaitForFences(true, common.NoTimeout, r.fence)
	if err != nil {
		return errors.Wrap(err, "waiting for staged transfer")
	}
	_, err = s.ctx.deviceDriver.ResetFences(r.fence)
	if err != nil {
		return err
	}

	s.ctx.deviceDriver.FreeCommandBuffers(r.cmdBuffer)
	r.cmdBuffer = core1_0.CommandBuffer{}

	if r.semaphore.Initialized() {
		if r.semaphore == s.lastSemaphore {
			s.lastSemaphore = core1_0.Semaphore{}
		}
		s.ctx.deviceDriver.DestroySemaphore(r.semaphore, nil)
		r.semaphore = core1_0.Semaphore{}
	}

	r.inFlight = false
	return nil
}

func (s *StagingDevice) waitIdleLocked() error {
	for i := range s.regions {
		if err := s.retireRegion(&s.regions[i]); err != nil {
			return err
		}
	}
	return nil
}

// WaitIdle blocks until every submitted transfer has completed. Mip
// generation, readback and texture destruction go through here so they
// never observe partially-copied data.
func (s *StagingDevice) WaitIdle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitIdleLocked()
}

// LastTransferSemaphore returns the signal semaphore of the most recent
// transfer submission, for the renderer to add to its wait semaphores.
// The semaphore stays valid until the staging device retires the region
// that signaled it; consume it before issuing further uploads.
func (s *StagingDevice) LastTransferSemaphore() (core1_0.Semaphore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSemaphore, s.lastSemaphore.Initialized()
}

// acquireRegion returns a region able to hold size bytes, growing the
// bounce buffer first when one transfer exceeds the current region size.
// The caller must hold s.mu.
func (s *StagingDevice) acquireRegion(size int) (*stagingRegion, error) {
	if size > s.regionSize {
		if err := s.waitIdleLocked(); err != nil {
			return nil, err
		}
		newRegionSize := alignUp(size, stagingRegionAlignment)
		s.ctx.logger.Debug("growing staging buffer",
			slog.Int("oldRegionSize", s.regionSize),
			slog.Int("newRegionSize", newRegionSize))
		s.releaseBuffer()
		if err := s.createBuffer(newRegionSize); err != nil {
			return nil, err
		}
	}

	r := &s.regions[s.next]
	s.next = (s.next + 1) % stagingRegionCount

	if err := s.retireRegion(r); err != nil {
		return nil, err
	}
	return r, nil
}

// submit ends the transfer command buffer and hands it to the queue,
// fenced for region reuse and signaling a fresh semaphore for downstream
// dependencies. It does not wait.
func (s *StagingDevice) submit(r *stagingRegion, cmdBuffer core1_0.CommandBuffer) error {
	_, err := s.ctx.deviceDriver.EndCommandBuffer(cmdBuffer)
	if err != nil {
		return err
	}

	if !r.fence.Initialized() {
		r.fence, _, err = s.ctx.deviceDriver.CreateFence(nil, core1_0.FenceCreateInfo{})
		if err != nil {
			return errors.Wrap(err, "creating staging fence")
		}
	}

	r.semaphore, _, err = s.ctx.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "creating transfer semaphore")
	}

	_, err = s.ctx.deviceDriver.QueueSubmit(s.ctx.queue, &r.fence,
		core1_0.SubmitInfo{
			CommandBuffers:   []core1_0.CommandBuffer{cmdBuffer},
			SignalSemaphores: []core1_0.Semaphore{r.semaphore},
		},
	)
	if err != nil {
		if r.semaphore.Initialized() {
			s.ctx.deviceDriver.DestroySemaphore(r.semaphore, nil)
			r.semaphore = core1_0.Semaphore{}
		}
		return errors.Wrap(err, "submitting staged transfer")
	}

	r.cmdBuffer = cmdBuffer
	r.inFlight = true
	s.lastSemaphore = r.semaphore
	return nil
}

// ImageData2D stages data and records a buffer-to-image copy covering the
// requested mip span of one layer of a 2D or cube image. data must hold
// the tightly-packed bytes of the whole span, level after level.
func (s *StagingDevice) ImageData2D(t *Texture, r UploadRange, layer int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := hrtime.Now()

	region, err := s.acquireRegion(len(data))
	if err != nil {
		return err
	}
	copy(s.mapped[region.offset:region.offset+len(data)], data)

	cmdBuffer, err := s.ctx.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = recordImageBarrier(s.ctx.deviceDriver, cmdBuffer, t.image, t.aspect, t.layout, core1_0.ImageLayoutTransferDstOptimal,
		t.desc.NumMipLevels, t.totalLayers())
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	var copies []core1_0.BufferImageCopy
	bufferOffset := region.offset
	for i := 0; i < r.NumMipLevels; i++ {
		copies = append(copies, core1_0.BufferImageCopy{
			BufferOffset:      bufferOffset,
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     t.aspect,
				MipLevel:       r.MipLevel + i,
				BaseArrayLayer: layer,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: mipOffset(r.X, i), Y: mipOffset(r.Y, i), Z: 0},
			ImageExtent: core1_0.Extent3D{
				Width:  mipDimension(r.Width, i),
				Height: mipDimension(r.Height, i),
				Depth:  1,
			},
		})
		bufferOffset += t.desc.Format.SliceBytes(r.Width, r.Height, 1, i)
	}

	err = s.ctx.deviceDriver.CmdCopyBufferToImage(cmdBuffer, s.buffer, t.image, core1_0.ImageLayoutTransferDstOptimal, copies...)
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	err = recordImageBarrier(s.ctx.deviceDriver, cmdBuffer, t.image, t.aspect, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal,
		t.desc.NumMipLevels, t.totalLayers())
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	if err := s.submit(region, cmdBuffer); err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}
	t.layout = core1_0.ImageLayoutShaderReadOnlyOptimal

	s.ctx.logger.Debug("staged 2D image upload",
		slog.String("texture", t.desc.DebugName),
		slog.Int("layer", layer),
		slog.Int("bytes", len(data)),
		slog.Duration("took", hrtime.Since(start)))
	return nil
}

// ImageData3D stages data and records a single full-extent copy into a
// volumetric image.
func (s *StagingDevice) ImageData3D(t *Texture, r UploadRange, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := hrtime.Now()

	region, err := s.acquireRegion(len(data))
	if err != nil {
		return err
	}
	copy(s.mapped[region.offset:region.offset+len(data)], data)

	cmdBuffer, err := s.ctx.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = recordImageBarrier(s.ctx.deviceDriver, cmdBuffer, t.image, t.aspect, t.layout, core1_0.ImageLayoutTransferDstOptimal,
		t.desc.NumMipLevels, 1)
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	err = s.ctx.deviceDriver.CmdCopyBufferToImage(cmdBuffer, s.buffer, t.image, core1_0.ImageLayoutTransferDstOptimal,
		core1_0.BufferImageCopy{
			BufferOffset:      region.offset,
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     t.aspect,
				MipLevel:       r.MipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: r.X, Y: r.Y, Z: r.Z},
			ImageExtent: core1_0.Extent3D{Width: r.Width, Height: r.Height, Depth: r.Depth},
		},
	)
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	err = recordImageBarrier(s.ctx.deviceDriver, cmdBuffer, t.image, t.aspect, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal,
		t.desc.NumMipLevels, 1)
	if err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}

	if err := s.submit(region, cmdBuffer); err != nil {
		s.ctx.deviceDriver.FreeCommandBuffers(cmdBuffer)
		return err
	}
	t.layout = core1_0.ImageLayoutShaderReadOnlyOptimal

	s.ctx.logger.Debug("staged 3D image upload",
		slog.String("texture", t.desc.DebugName),
		slog.Int("bytes", len(data)),
		slog.Duration("took", hrtime.Since(start)))
	return nil
}

func (s *StagingDevice) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.waitIdleLocked(); err != nil {
		s.ctx.logger.Error("waiting for staging transfers during teardown", slog.String("error", err.Error()))
	}
	for i := range s.regions {
		if s.regions[i].fence.Initialized() {
			s.ctx.deviceDriver.DestroyFence(s.regions[i].fence, nil)
			s.regions[i].fence = core1_0.Fence{}
		}
		if s.regions[i].semaphore.Initialized() {
			s.ctx.deviceDriver.DestroySemaphore(s.regions[i].semaphore, nil)
			s.regions[i].semaphore = core1_0.Semaphore{}
		}
	}
	s.lastSemaphore = core1_0.Semaphore{}
	s.releaseBuffer()
}

func mipOffset(base int, level int) int {
	return base >> uint(level)
}

// recordImageBarrier records a whole-image layout transition with the
// access masks and stages each transition pair requires.
func recordImageBarrier(driver core1_0.CoreDeviceDriver, cmdBuffer core1_0.CommandBuffer, image core1_0.Image, aspect core1_0.ImageAspectFlags, oldLayout, newLayout core1_0.ImageLayout, mipLevels, layers int) error {
	barrier := core1_0.ImageMemoryBarrier{
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: -1,
		DstQueueFamilyIndex: -1,
		Image:               image,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     layers,
		},
	}

	sourceStage := core1_0.PipelineStageTopOfPipe
	destStage := core1_0.PipelineStageTransfer

	switch oldLayout {
	case core1_0.ImageLayoutTransferDstOptimal:
		barrier.SrcAccessMask = core1_0.AccessTransferWrite
		sourceStage = core1_0.PipelineStageTransfer
	case core1_0.ImageLayoutTransferSrcOptimal:
		barrier.SrcAccessMask = core1_0.AccessTransferRead
		sourceStage = core1_0.PipelineStageTransfer
	case core1_0.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = core1_0.AccessShaderRead
		sourceStage = core1_0.PipelineStageFragmentShader
	}

	switch newLayout {
	case core1_0.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = core1_0.AccessTransferWrite
	case core1_0.ImageLayoutTransferSrcOptimal:
		barrier.DstAccessMask = core1_0.AccessTransferRead
	case core1_0.ImageLayoutShaderReadOnlyOptimal:
		barrier.DstAccessMask = core1_0.AccessShaderRead
		destStage = core1_0.PipelineStageFragmentShader
	}

	return driver.CmdPipelineBarrier(cmdBuffer, sourceStage, destStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
}
