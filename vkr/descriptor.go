package vkr

import (
	"log/slog"
	"math"
)

// TextureType is the closed set of image shapes the library supports.
type TextureType int32

const (
	TextureTypeInvalid TextureType = iota
	TextureType2D
	TextureType3D
	TextureTypeCube
)

func (t TextureType) String() string {
	switch t {
	case TextureType2D:
		return "2D"
	case TextureType3D:
		return "3D"
	case TextureTypeCube:
		return "Cube"
	}
	return "Invalid"
}

// Usage describes how a texture will be consumed.
type Usage uint32

const (
	UsageSampled Usage = 1 << iota
	UsageStorage
	UsageAttachment
)

// Storage selects the memory class backing the image.
type Storage int32

const (
	// StorageDeviceLocal places the image in device-private memory; pixel
	// data reaches it through the staging pipeline.
	StorageDeviceLocal Storage = iota
	// StorageHostVisible places the image in host-mappable memory.
	StorageHostVisible
)

// CubeFace addresses one face of a cube texture. Ordinals match the
// Vulkan layer order.
type CubeFace int32

const (
	CubeFacePosX CubeFace = iota
	CubeFaceNegX
	CubeFacePosY
	CubeFaceNegY
	CubeFacePosZ
	CubeFaceNegZ
)

// TextureDescriptor is the caller-facing description of a texture.
// Zero-valued dimension fields default to 1 during validation.
type TextureDescriptor struct {
	Type   TextureType
	Format Format

	Width  int
	Height int
	Depth  int

	NumLayers    int
	NumMipLevels int
	NumSamples   int

	Usage   Usage
	Storage Storage

	DebugName string
}

// CalcNumMipLevels returns the size of a full mip chain for the given
// base dimensions.
func CalcNumMipLevels(width, height int) int {
	side := width
	if height > side {
		side = height
	}
	if side < 1 {
		return 1
	}
	return int(math.Log2(float64(side))) + 1
}

// Validate checks the descriptor and returns a normalized copy. Rules are
// checked in a fixed order; recoverable configurations (zero mip levels,
// empty usage set) are corrected with a logged warning instead of failing.
// Validation never touches the device.
func (desc TextureDescriptor) Validate(logger *slog.Logger) (TextureDescriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch desc.Type {
	case TextureType2D, TextureType3D, TextureTypeCube:
	default:
		return desc, markf(ErrUnsupportedType, "texture type %d is not supported, only 2D, 3D and Cube textures are", desc.Type)
	}

	if desc.Width < 1 {
		desc.Width = 1
	}
	if desc.Height < 1 {
		desc.Height = 1
	}
	if desc.Depth < 1 {
		desc.Depth = 1
	}
	if desc.NumLayers < 1 {
		desc.NumLayers = 1
	}
	if desc.NumSamples < 1 {
		desc.NumSamples = 1
	}

	if desc.NumMipLevels < 1 {
		logger.Warn("texture descriptor mip level count is not positive, substituting 1",
			slog.Int("numMipLevels", desc.NumMipLevels),
			slog.String("debugName", desc.DebugName))
		desc.NumMipLevels = 1
	}

	if desc.NumSamples > 1 && desc.NumMipLevels != 1 {
		return desc, markf(ErrInvalidSampleConfiguration, "multisampled images must have exactly 1 mip level, got %d", desc.NumMipLevels)
	}

	if desc.NumSamples > 1 && desc.Type == TextureType3D {
		return desc, markf(ErrInvalidSampleConfiguration, "multisampled 3D images are not supported")
	}

	if maxLevels := CalcNumMipLevels(desc.Width, desc.Height); desc.NumMipLevels > maxLevels {
		return desc, markf(ErrMipLevelOutOfRange, "%d mip levels requested, at most %d fit %dx%d", desc.NumMipLevels, maxLevels, desc.Width, desc.Height)
	}

	if desc.Usage == 0 {
		logger.Warn("texture descriptor has no usage flags, substituting Sampled",
			slog.String("debugName", desc.DebugName))
		desc.Usage = UsageSampled
	}

	return desc, nil
}

// UploadRange describes the destination region of one upload call.
type UploadRange struct {
	X, Y, Z int

	Width  int
	Height int
	Depth  int

	MipLevel     int
	NumMipLevels int

	Layer     int
	NumLayers int
}

func (r UploadRange) normalized() UploadRange {
	if r.Width < 1 {
		r.Width = 1
	}
	if r.Height < 1 {
		r.Height = 1
	}
	if r.Depth < 1 {
		r.Depth = 1
	}
	if r.NumMipLevels < 1 {
		r.NumMipLevels = 1
	}
	if r.NumLayers < 1 {
		r.NumLayers = 1
	}
	return r
}

// validateRange checks the range against a texture's dimensions at the
// addressed mip level and its layer span. Purely local; never reaches the
// device.
func (t *Texture) validateRange(r UploadRange) (UploadRange, error) {
	r = r.normalized()

	if r.MipLevel < 0 || r.NumMipLevels < 1 || r.MipLevel+r.NumMipLevels > t.desc.NumMipLevels {
		return r, markf(ErrRangeOutOfBounds, "mip span [%d,%d) exceeds the texture's %d mip levels",
			r.MipLevel, r.MipLevel+r.NumMipLevels, t.desc.NumMipLevels)
	}

	maxW := mipDimension(t.desc.Width, r.MipLevel)
	maxH := mipDimension(t.desc.Height, r.MipLevel)
	maxD := mipDimension(t.desc.Depth, r.MipLevel)
	if r.X < 0 || r.Y < 0 || r.Z < 0 ||
		r.X+r.Width > maxW || r.Y+r.Height > maxH || r.Z+r.Depth > maxD {
		return r, markf(ErrRangeOutOfBounds, "region %dx%dx%d at (%d,%d,%d) exceeds the %dx%dx%d extent of mip level %d",
			r.Width, r.Height, r.Depth, r.X, r.Y, r.Z, maxW, maxH, maxD, r.MipLevel)
	}

	if r.Layer < 0 || r.Layer+r.NumLayers > t.totalLayers() {
		return r, markf(ErrRangeOutOfBounds, "layer span [%d,%d) exceeds the texture's %d layers",
			r.Layer, r.Layer+r.NumLayers, t.totalLayers())
	}

	return r, nil
}
