package vkr

import (
	"io"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_2"
	"go.uber.org/mock/gomock"
)

func pointerTo(data []byte) unsafe.Pointer {
	return unsafe.Pointer(&data[0])
}

// testEnv wires a DeviceContext over mock drivers. The staging buffer's
// mapping points into backing, so tests can inspect exactly which bytes an
// upload staged.
type testEnv struct {
	t *testing.T

	driver   *mocks1_2.MockCoreDeviceDriver
	instance *mocks1_2.MockCoreInstanceDriver
	device   core1_0.Device
	physical core1_0.PhysicalDevice

	ctx *DeviceContext

	stagingBuffer core1_0.Buffer
	stagingMemory core1_0.DeviceMemory
	backing       []byte
}

// readyContext builds a context with a staging buffer of totalSize bytes.
// totalSize must be a multiple of 64 so region alignment does not change it.
func readyContext(t *testing.T, ctrl *gomock.Controller, totalSize int) *testEnv {
	mockInstance := mocks1_2.NewMockCoreInstanceDriver(ctrl)
	mockCore := mocks1_2.NewMockCoreDeviceDriver(ctrl)
	mockCore.EXPECT().InstanceDriver().Return(mockInstance).AnyTimes()

	instance := mocks.NewDummyInstance(common.Vulkan1_2, nil)
	physicalDevice := mocks.NewDummyPhysicalDevice(instance, common.Vulkan1_2)
	device := mocks.NewDummyDevice(common.Vulkan1_2, nil)

	mockInstance.EXPECT().Instance().Return(instance).AnyTimes()
	mockCore.EXPECT().Device().Return(device).AnyTimes()

	mockInstance.EXPECT().GetPhysicalDeviceMemoryProperties(physicalDevice).Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{
				PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
				HeapIndex:     0,
			},
			{
				PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
				HeapIndex:     1,
			},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{
				Size:  1 << 30,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size: 1 << 30,
			},
		},
	}).AnyTimes()

	env := &testEnv{
		t:        t,
		driver:   mockCore,
		instance: mockInstance,
		device:   device,
		physical: physicalDevice,
	}

	mockCore.EXPECT().GetQueue(0, 0).Return(core1_0.Queue{})
	mockCore.EXPECT().CreateCommandPool(gomock.Any(), core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: 0,
	}).Return(core1_0.CommandPool{}, core1_0.VKSuccess, nil)

	env.expectStagingBuffer(totalSize)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, err := NewDeviceContext(ContextOptions{
		DeviceDriver:      mockCore,
		InstanceDriver:    mockInstance,
		PhysicalDevice:    physicalDevice,
		StagingBufferSize: totalSize,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("building device context: %s", err)
	}
	env.ctx = ctx
	return env
}

// expectStagingBuffer arranges the staging buffer creation call chain and a
// fresh backing slice. Called once by readyContext and again by growth tests.
func (env *testEnv) expectStagingBuffer(totalSize int) {
	buffer := mocks.NewDummyBuffer(env.device)
	memory := mocks.NewDummyDeviceMemory(env.device, totalSize)
	backing := make([]byte, totalSize)

	env.driver.EXPECT().CreateBuffer(gomock.Any(), core1_0.BufferCreateInfo{
		Size:        totalSize,
		Usage:       core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(buffer, core1_0.VKSuccess, nil)
	env.driver.EXPECT().GetBufferMemoryRequirements(buffer).Return(&core1_0.MemoryRequirements{
		Size:           totalSize,
		Alignment:      1,
		MemoryTypeBits: 0b11,
	})
	env.driver.EXPECT().AllocateMemory(gomock.Any(), core1_0.MemoryAllocateInfo{
		AllocationSize:  totalSize,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)
	env.driver.EXPECT().BindBufferMemory(buffer, memory, 0).Return(core1_0.VKSuccess, nil)
	env.driver.EXPECT().MapMemory(memory, 0, totalSize, gomock.Any()).
		Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	env.stagingBuffer = buffer
	env.stagingMemory = memory
	env.backing = backing
}

// expectTransferPlumbing allows the command buffer, fence, semaphore and
// submission traffic every transfer produces, without pinning call counts.
// Copies and blits stay unexpected so each test declares its own.
func (env *testEnv) expectTransferPlumbing() {
	d := env.driver
	d.EXPECT().AllocateCommandBuffers(gomock.Any()).
		Return([]core1_0.CommandBuffer{{}}, core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().BeginCommandBuffer(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().EndCommandBuffer(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	d.EXPECT().CreateFence(gomock.Any(), gomock.Any()).Return(core1_0.Fence{}, core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().CreateSemaphore(gomock.Any(), gomock.Any()).Return(core1_0.Semaphore{}, core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().QueueSubmit(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().QueueWaitIdle(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().WaitForFences(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().ResetFences(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().FreeCommandBuffers(gomock.Any()).AnyTimes()
}

// expectImageCreation arranges the full CreateTexture call chain for an
// image matching info and returns the dummy image handle.
func (env *testEnv) expectImageCreation(info core1_0.ImageCreateInfo, size int, memoryTypeIndex int) core1_0.Image {
	image := mocks.NewDummyImage(env.device)
	memory := mocks.NewDummyDeviceMemory(env.device, size)

	env.driver.EXPECT().CreateImage(gomock.Any(), info).Return(image, core1_0.VKSuccess, nil)
	env.driver.EXPECT().GetImageMemoryRequirements(image).Return(&core1_0.MemoryRequirements{
		Size:           size,
		Alignment:      16,
		MemoryTypeBits: 0b11,
	})
	env.driver.EXPECT().AllocateMemory(gomock.Any(), core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	}).Return(memory, core1_0.VKSuccess, nil)
	env.driver.EXPECT().BindImageMemory(image, memory, 0).Return(core1_0.VKSuccess, nil)
	env.driver.EXPECT().CreateImageView(gomock.Any(), gomock.Any()).
		Return(core1_0.ImageView{}, core1_0.VKSuccess, nil)

	return image
}

// image2DCreateInfo is the creation info CreateTexture produces for a plain
// sampled, device-local 2D texture.
func image2DCreateInfo(format core1_0.Format, width, height, mipLevels int) core1_0.ImageCreateInfo {
	return core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    format,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled | core1_0.ImageUsageTransferSrc,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}
}

// stagedCopy records one CmdCopyBufferToImage region along with the bytes
// that sat in the staging buffer at its offset when the copy was recorded.
type stagedCopy struct {
	region core1_0.BufferImageCopy
	bytes  []byte
}

// captureCopies collects every buffer-to-image copy into out, snapshotting
// the staged bytes sized by the texture's format at the region's extent.
func (env *testEnv) captureCopies(t *Texture, out *[]stagedCopy) {
	env.driver.EXPECT().CmdCopyBufferToImage(gomock.Any(), gomock.Any(), t.image, core1_0.ImageLayoutTransferDstOptimal, gomock.Any()).
		DoAndReturn(func(cmdBuffer core1_0.CommandBuffer, buffer core1_0.Buffer, image core1_0.Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
			for _, region := range regions {
				size := t.desc.Format.SliceBytes(region.ImageExtent.Width, region.ImageExtent.Height, region.ImageExtent.Depth, 0)
				snapshot := make([]byte, size)
				copy(snapshot, env.backing[region.BufferOffset:region.BufferOffset+size])
				*out = append(*out, stagedCopy{region: region, bytes: snapshot})
			}
			return nil
		}).AnyTimes()
}
