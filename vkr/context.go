package vkr

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
)

const defaultStagingBufferSize = 64 * 1024 * 1024

// ContextOptions configures a DeviceContext. DeviceDriver, InstanceDriver
// and PhysicalDevice are required; the rest have usable defaults.
type ContextOptions struct {
	DeviceDriver   core1_0.CoreDeviceDriver
	InstanceDriver core1_0.CoreInstanceDriver
	PhysicalDevice core1_0.PhysicalDevice

	// QueueFamilyIndex selects the family used for transfer and blit
	// submissions. The family must support graphics for mip generation.
	QueueFamilyIndex int

	// StagingBufferSize is the initial size of the staging buffer. The
	// buffer grows when a single transfer exceeds a staging region.
	StagingBufferSize int

	Logger *slog.Logger

	// AttachDebugMessenger routes Vulkan validation output into Logger.
	// Requires the instance to have been created with the debug utils
	// extension enabled.
	AttachDebugMessenger bool
}

// DeviceContext owns the per-device state shared by all textures: the
// transfer queue, the command pool and the staging device. It holds
// references to the drivers but does not own the Vulkan device.
type DeviceContext struct {
	id     uuid.UUID
	logger *slog.Logger

	deviceDriver   core1_0.CoreDeviceDriver
	instanceDriver core1_0.CoreInstanceDriver
	physicalDevice core1_0.PhysicalDevice

	queue            core1_0.Queue
	queueFamilyIndex int
	commandPool      core1_0.CommandPool

	staging *StagingDevice

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	hasMessenger   bool

	destroyed bool
}

// NewDeviceContext assembles a context over an already-created device.
func NewDeviceContext(opts ContextOptions) (*DeviceContext, error) {
	if opts.DeviceDriver == nil || opts.InstanceDriver == nil {
		return nil, errors.New("NewDeviceContext: DeviceDriver and InstanceDriver are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx := &DeviceContext{
		id:               uuid.New(),
		deviceDriver:     opts.DeviceDriver,
		instanceDriver:   opts.InstanceDriver,
		physicalDevice:   opts.PhysicalDevice,
		queueFamilyIndex: opts.QueueFamilyIndex,
	}
	ctx.logger = logger.With(slog.String("vkrContext", ctx.id.String()))

	ctx.queue = ctx.deviceDriver.GetQueue(opts.QueueFamilyIndex, 0)

	commandPool, _, err := ctx.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: opts.QueueFamilyIndex,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating transfer command pool")
	}
	ctx.commandPool = commandPool

	stagingSize := opts.StagingBufferSize
	if stagingSize <= 0 {
		stagingSize = defaultStagingBufferSize
	}
	ctx.staging, err = newStagingDevice(ctx, stagingSize)
	if err != nil {
		ctx.deviceDriver.DestroyCommandPool(ctx.commandPool, nil)
		return nil, err
	}

	if opts.AttachDebugMessenger {
		ctx.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(ctx.instanceDriver)
		ctx.debugMessenger, _, err = ctx.debugDriver.CreateDebugUtilsMessenger(nil, ext_debug_utils.DebugUtilsMessengerCreateInfo{
			MessageSeverity: ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityError,
			MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
			UserCallback:    ctx.logValidation,
		})
		if err != nil {
			ctx.staging.destroy()
			ctx.deviceDriver.DestroyCommandPool(ctx.commandPool, nil)
			return nil, errors.Wrap(err, "creating debug messenger")
		}
		ctx.hasMessenger = true
	}

	return ctx, nil
}

func (ctx *DeviceContext) logValidation(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	if severity&ext_debug_utils.SeverityError != 0 {
		ctx.logger.Error("vulkan validation", slog.String("type", msgType.String()), slog.String("message", data.Message))
	} else {
		ctx.logger.Warn("vulkan validation", slog.String("type", msgType.String()), slog.String("message", data.Message))
	}
	return false
}

// ID identifies this context in logs and debug labels.
func (ctx *DeviceContext) ID() uuid.UUID {
	return ctx.id
}

// Staging exposes the staging device, mainly so renderers can retrieve the
// transfer-complete semaphore for queue submission.
func (ctx *DeviceContext) Staging() *StagingDevice {
	return ctx.staging
}

// Destroy waits for in-flight transfers and releases everything the
// context owns. The device itself is untouched.
func (ctx *DeviceContext) Destroy() {
	if ctx.destroyed {
		return
	}
	ctx.destroyed = true

	if ctx.staging != nil {
		ctx.staging.destroy()
		ctx.staging = nil
	}
	ctx.deviceDriver.DestroyCommandPool(ctx.commandPool, nil)
	ctx.commandPool = core1_0.CommandPool{}
	if ctx.hasMessenger {
		ctx.debugDriver.DestroyDebugUtilsMessenger(ctx.debugMessenger, nil)
		ctx.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
		ctx.hasMessenger = false
	}
}

func (ctx *DeviceContext) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := ctx.instanceDriver.GetPhysicalDeviceMemoryProperties(ctx.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("no memory type matches filter 0x%x with properties %s", typeFilter, properties)
}

func (ctx *DeviceContext) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := ctx.instanceDriver.GetPhysicalDeviceFormatProperties(ctx.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("no supported format for tiling %s, featureset %s", tiling, features)
}

// ClosestDepthStencilFormat returns the supported device format nearest to
// the requested abstract depth/stencil format.
func (ctx *DeviceContext) ClosestDepthStencilFormat(f Format) (core1_0.Format, error) {
	var candidates []core1_0.Format
	switch f {
	case FormatDepth16:
		candidates = []core1_0.Format{
			core1_0.FormatD16UnsignedNormalized,
			core1_0.FormatD32SignedFloat,
			core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		}
	case FormatDepth32F:
		candidates = []core1_0.Format{
			core1_0.FormatD32SignedFloat,
			core1_0.FormatD32SignedFloatS8UnsignedInt,
			core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
		}
	case FormatDepth24Stencil8:
		candidates = []core1_0.Format{
			core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
			core1_0.FormatD32SignedFloatS8UnsignedInt,
		}
	default:
		return 0, errors.Newf("%s is not a depth/stencil format", f)
	}

	return ctx.findSupportedFormat(candidates, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
}

// vkFormatFor resolves the device format for a descriptor, substituting the
// closest supported depth/stencil format where needed.
func (ctx *DeviceContext) vkFormatFor(desc TextureDescriptor) (core1_0.Format, error) {
	if desc.Format.IsDepthOrStencil() {
		return ctx.ClosestDepthStencilFormat(desc.Format)
	}
	return desc.Format.VkFormat(), nil
}

func (ctx *DeviceContext) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := ctx.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        ctx.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	buffer := buffers[0]
	_, err = ctx.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return buffer, err
}

func (ctx *DeviceContext) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	_, err := ctx.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return err
	}

	_, err = ctx.deviceDriver.QueueSubmit(ctx.queue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return err
	}

	_, err = ctx.deviceDriver.QueueWaitIdle(ctx.queue)
	if err != nil {
		return err
	}

	ctx.deviceDriver.FreeCommandBuffers(buffer)
	return nil
}
