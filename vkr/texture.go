package vkr

import (
	"log/slog"

	"github.com/vkngwrapper/core/v3/core1_0"
)

// Texture is a device image with bound memory, a primary sampling view and
// a lazily grown arena of per-mip attachment views. It is created through
// CreateTexture and owns every device object it references except the
// context.
type Texture struct {
	ctx  *DeviceContext
	desc TextureDescriptor

	vkFormat core1_0.Format
	aspect   core1_0.ImageAspectFlags

	image  core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView
	layout core1_0.ImageLayout

	// fbViews is indexed by mip level and grown on demand; entries stay
	// valid until the texture is destroyed. Not synchronized: serialize
	// concurrent first access externally or pre-warm.
	fbViews   []core1_0.ImageView
	fbViewSet []bool
}

func sampleCountFlags(numSamples int) core1_0.SampleCountFlags {
	switch numSamples {
	case 2:
		return core1_0.Samples2
	case 4:
		return core1_0.Samples4
	case 8:
		return core1_0.Samples8
	case 16:
		return core1_0.Samples16
	case 32:
		return core1_0.Samples32
	case 64:
		return core1_0.Samples64
	}
	return core1_0.Samples1
}

// CreateTexture validates the descriptor, allocates the image and its
// memory and creates the primary view. On any failure after the image
// exists, the partial allocation is rolled back before returning.
func CreateTexture(ctx *DeviceContext, desc TextureDescriptor) (*Texture, error) {
	desc, err := desc.Validate(ctx.logger)
	if err != nil {
		return nil, err
	}

	vkFormat, err := ctx.vkFormatFor(desc)
	if err != nil {
		return nil, markWrapf(ErrAllocationFailed, err, "resolving device format for %s", desc.Format)
	}

	// Device-private storage is filled through the staging pipeline, which
	// needs the image to be a transfer destination.
	var usageFlags core1_0.ImageUsageFlags
	if desc.Storage == StorageDeviceLocal {
		usageFlags |= core1_0.ImageUsageTransferDst
	}
	if desc.Usage&UsageSampled != 0 {
		usageFlags |= core1_0.ImageUsageSampled
	}
	if desc.Usage&UsageStorage != 0 {
		if desc.NumSamples > 1 {
			return nil, markf(ErrInvalidSampleConfiguration, "storage images cannot be multisampled")
		}
		usageFlags |= core1_0.ImageUsageStorage
	}
	if desc.Usage&UsageAttachment != 0 {
		if desc.Format.IsDepthOrStencil() {
			usageFlags |= core1_0.ImageUsageDepthStencilAttachment
		} else {
			usageFlags |= core1_0.ImageUsageColorAttachment
		}
	}
	// Always readable back.
	usageFlags |= core1_0.ImageUsageTransferSrc

	var (
		createFlags core1_0.ImageCreateFlags
		imageType   core1_0.ImageType
		viewType    core1_0.ImageViewType
	)
	samples := core1_0.Samples1
	arrayLayers := desc.NumLayers

	switch desc.Type {
	case TextureType2D:
		imageType = core1_0.ImageType2D
		viewType = core1_0.ImageViewType2D
		samples = sampleCountFlags(desc.NumSamples)
	case TextureType3D:
		imageType = core1_0.ImageType3D
		viewType = core1_0.ImageViewType3D
	case TextureTypeCube:
		imageType = core1_0.ImageType2D
		viewType = core1_0.ImageViewTypeCube
		arrayLayers *= 6
		createFlags = core1_0.ImageCreateCubeCompatible
	}

	tiling := core1_0.ImageTilingOptimal
	memProperties := core1_0.MemoryPropertyDeviceLocal
	if desc.Storage == StorageHostVisible {
		tiling = core1_0.ImageTilingLinear
		memProperties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	image, res, err := ctx.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		Flags:     createFlags,
		ImageType: imageType,
		Format:    vkFormat,
		Extent: core1_0.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth,
		},
		MipLevels:     desc.NumMipLevels,
		ArrayLayers:   arrayLayers,
		Samples:       samples,
		Tiling:        tiling,
		Usage:         usageFlags,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, markWrapf(ErrAllocationFailed, err, "vkCreateImage returned %s", res)
	}

	memReqs := ctx.deviceDriver.GetImageMemoryRequirements(image)
	memoryTypeIndex, err := ctx.findMemoryType(memReqs.MemoryTypeBits, memProperties)
	if err != nil {
		ctx.deviceDriver.DestroyImage(image, nil)
		return nil, markWrapf(ErrAllocationFailed, err, "selecting image memory type")
	}

	memory, res, err := ctx.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		ctx.deviceDriver.DestroyImage(image, nil)
		return nil, markWrapf(ErrAllocationFailed, err, "vkAllocateMemory returned %s", res)
	}

	_, err = ctx.deviceDriver.BindImageMemory(image, memory, 0)
	if err != nil {
		ctx.deviceDriver.DestroyImage(image, nil)
		ctx.deviceDriver.FreeMemory(memory, nil)
		return nil, markWrapf(ErrAllocationFailed, err, "binding image memory")
	}

	aspect := core1_0.ImageAspectColor
	if desc.Format.IsDepthOrStencil() {
		aspect = core1_0.ImageAspectDepth
	}

	view, _, err := ctx.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: viewType,
		Format:   vkFormat,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     desc.NumMipLevels,
			BaseArrayLayer: 0,
			LayerCount:     arrayLayers,
		},
	})
	if err != nil {
		ctx.deviceDriver.DestroyImage(image, nil)
		ctx.deviceDriver.FreeMemory(memory, nil)
		return nil, markWrapf(ErrViewCreationFailed, err, "creating primary image view")
	}

	if desc.DebugName != "" {
		ctx.logger.Debug("created texture",
			slog.String("texture", desc.DebugName),
			slog.String("format", desc.Format.String()),
			slog.String("type", desc.Type.String()))
	}

	return &Texture{
		ctx:      ctx,
		desc:     desc,
		vkFormat: vkFormat,
		aspect:   aspect,
		image:    image,
		memory:   memory,
		view:     view,
		layout:   core1_0.ImageLayoutUndefined,
	}, nil
}

func (t *Texture) totalLayers() int {
	if t.desc.Type == TextureTypeCube {
		return t.desc.NumLayers * 6
	}
	return t.desc.NumLayers
}

// Dimensions returns the base-level extent.
func (t *Texture) Dimensions() (width, height, depth int) {
	return t.desc.Width, t.desc.Height, t.desc.Depth
}

func (t *Texture) Type() TextureType { return t.desc.Type }

func (t *Texture) Format() Format { return t.desc.Format }

func (t *Texture) VkFormat() core1_0.Format { return t.vkFormat }

func (t *Texture) NumLayers() int { return t.desc.NumLayers }

func (t *Texture) NumMipLevels() int { return t.desc.NumMipLevels }

func (t *Texture) Samples() int { return t.desc.NumSamples }

func (t *Texture) Usage() Usage { return t.desc.Usage }

func (t *Texture) Image() core1_0.Image { return t.image }

func (t *Texture) View() core1_0.ImageView { return t.view }

func (t *Texture) Layout() core1_0.ImageLayout { return t.layout }

// Upload transfers row-major pixel data into the addressed region. A nil
// data slice is a no-op success so callers can check range validity.
// rowStride is the source's byte distance between rows; zero means tightly
// packed. Compressed formats ignore rowStride, and strided sources are
// limited to single-level 2D regions. Multi-layer uploads read one full
// mip span per layer, back to back.
func (t *Texture) Upload(r UploadRange, data []byte, rowStride int) error {
	if data == nil {
		return nil
	}
	r, err := t.validateRange(r)
	if err != nil {
		return err
	}

	bytesPerPixel := t.desc.Format.texelSize()
	rowWidth := r.Width * bytesPerPixel

	isAligned := t.desc.Format.IsCompressed() || rowStride == 0 || rowStride == rowWidth

	if !isAligned && (r.NumMipLevels > 1 || r.Depth > 1) {
		return markf(ErrUnsupportedOperation, "row strides apply to a single 2D mip level, got %d levels and depth %d", r.NumMipLevels, r.Depth)
	}

	// Each layer's source is the byte size of its requested mip span.
	spanBytes := t.desc.Format.SliceBytes(r.Width, r.Height, r.Depth, 0)
	for i := 1; i < r.NumMipLevels; i++ {
		spanBytes += t.desc.Format.SliceBytes(r.Width, r.Height, r.Depth, i)
	}

	lastLayerBytes := spanBytes
	if !isAligned {
		lastLayerBytes = rowStride*(r.Height-1) + rowWidth
	}
	if needed := spanBytes*(r.NumLayers-1) + lastLayerBytes; len(data) < needed {
		return markf(ErrRangeOutOfBounds, "upload data holds %d bytes, the range needs %d", len(data), needed)
	}

	var linearData []byte
	if !isAligned {
		linearData = make([]byte, spanBytes)
	}

	offset := 0
	for layer := 0; layer < r.NumLayers; layer++ {
		var uploadData []byte
		if isAligned {
			uploadData = data[offset : offset+spanBytes]
		} else {
			for row := 0; row < r.Height; row++ {
				copy(linearData[row*rowWidth:(row+1)*rowWidth],
					data[offset+row*rowStride:offset+row*rowStride+rowWidth])
			}
			uploadData = linearData
		}

		if t.desc.Type == TextureType3D {
			err = t.ctx.staging.ImageData3D(t, r, uploadData)
		} else {
			err = t.ctx.staging.ImageData2D(t, r, r.Layer+layer, uploadData)
		}
		if err != nil {
			return err
		}

		offset += spanBytes
	}

	return nil
}

// UploadCube transfers pixel data into one face of a cube texture. The
// face selects the destination layer.
func (t *Texture) UploadCube(r UploadRange, face CubeFace, data []byte, rowStride int) error {
	if t.desc.Type != TextureTypeCube {
		return markf(ErrUnsupportedOperation, "UploadCube called on a %s texture", t.desc.Type)
	}
	r.Layer = int(face - CubeFacePosX)
	r.NumLayers = 1
	return t.Upload(r, data, rowStride)
}

// AttachmentView returns a single-mip, single-layer view for framebuffer
// attachment at the given level, creating and caching it on first use.
func (t *Texture) AttachmentView(level int) (core1_0.ImageView, error) {
	if level < 0 || level >= t.desc.NumMipLevels {
		return core1_0.ImageView{}, markf(ErrRangeOutOfBounds, "attachment view level %d exceeds the texture's %d mip levels", level, t.desc.NumMipLevels)
	}

	if level < len(t.fbViews) && t.fbViewSet[level] {
		return t.fbViews[level], nil
	}

	for len(t.fbViews) <= level {
		t.fbViews = append(t.fbViews, core1_0.ImageView{})
		t.fbViewSet = append(t.fbViewSet, false)
	}

	view, _, err := t.ctx.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    t.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   t.vkFormat,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     t.aspect,
			BaseMipLevel:   level,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return core1_0.ImageView{}, markWrapf(ErrViewCreationFailed, err, "creating attachment view for mip level %d", level)
	}

	t.fbViews[level] = view
	t.fbViewSet[level] = true
	return view, nil
}

// Destroy waits for in-flight transfers touching this texture, then
// releases the image, its memory and every cached view. Safe to call on an
// already-destroyed texture.
func (t *Texture) Destroy() {
	if t.ctx == nil {
		return
	}

	if err := t.ctx.staging.WaitIdle(); err != nil {
		t.ctx.logger.Error("waiting for transfers before texture destruction",
			slog.String("texture", t.desc.DebugName),
			slog.String("error", err.Error()))
	}

	for i := range t.fbViews {
		if t.fbViewSet[i] {
			t.ctx.deviceDriver.DestroyImageView(t.fbViews[i], nil)
		}
	}
	t.fbViews = nil
	t.fbViewSet = nil

	t.ctx.deviceDriver.DestroyImageView(t.view, nil)
	t.ctx.deviceDriver.DestroyImage(t.image, nil)
	t.ctx.deviceDriver.FreeMemory(t.memory, nil)
	t.view = core1_0.ImageView{}
	t.image = core1_0.Image{}
	t.memory = core1_0.DeviceMemory{}
	t.ctx = nil
}
