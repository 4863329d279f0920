package vkr

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Format is the device-agnostic pixel format of a texture. It maps onto a
// concrete core1_0.Format when the image is created.
type Format int32

const (
	FormatInvalid Format = iota

	FormatR8
	FormatRG8
	FormatRGBA8
	FormatRGBA8SRGB
	FormatBGRA8
	FormatRGBA16F
	FormatRGBA32F

	FormatBC7RGBA
	FormatETC2RGB8

	FormatDepth16
	FormatDepth32F
	FormatDepth24Stencil8
)

func (f Format) String() string {
	switch f {
	case FormatR8:
		return "R8"
	case FormatRG8:
		return "RG8"
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBA8SRGB:
		return "RGBA8_SRGB"
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBA16F:
		return "RGBA16F"
	case FormatRGBA32F:
		return "RGBA32F"
	case FormatBC7RGBA:
		return "BC7_RGBA"
	case FormatETC2RGB8:
		return "ETC2_RGB8"
	case FormatDepth16:
		return "DEPTH16"
	case FormatDepth32F:
		return "DEPTH32F"
	case FormatDepth24Stencil8:
		return "DEPTH24_STENCIL8"
	}
	return "INVALID"
}

// VkFormat returns the concrete device format. Depth/stencil formats may be
// substituted by the context with the closest supported format before
// image creation.
func (f Format) VkFormat() core1_0.Format {
	switch f {
	case FormatR8:
		return core1_0.FormatR8UnsignedNormalized
	case FormatRG8:
		return core1_0.FormatR8G8UnsignedNormalized
	case FormatRGBA8:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case FormatRGBA8SRGB:
		return core1_0.FormatR8G8B8A8SRGB
	case FormatBGRA8:
		return core1_0.FormatB8G8R8A8UnsignedNormalized
	case FormatRGBA16F:
		return core1_0.FormatR16G16B16A16SignedFloat
	case FormatRGBA32F:
		return core1_0.FormatR32G32B32A32SignedFloat
	case FormatBC7RGBA:
		return core1_0.FormatBC7_UnsignedNormalized
	case FormatETC2RGB8:
		return core1_0.FormatETC2_R8G8B8UnsignedNormalized
	case FormatDepth16:
		return core1_0.FormatD16UnsignedNormalized
	case FormatDepth32F:
		return core1_0.FormatD32SignedFloat
	case FormatDepth24Stencil8:
		return core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
	}
	return core1_0.FormatUndefined
}

// IsCompressed reports whether the format stores fixed-size blocks of
// pixels rather than individual pixels.
func (f Format) IsCompressed() bool {
	switch f {
	case FormatBC7RGBA, FormatETC2RGB8:
		return true
	}
	return false
}

func (f Format) IsDepthOrStencil() bool {
	switch f {
	case FormatDepth16, FormatDepth32F, FormatDepth24Stencil8:
		return true
	}
	return false
}

// BytesPerPixel is the tightly-packed byte size of one pixel. It must not
// be called for compressed formats; use BytesPerBlock instead.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatR8:
		return 1
	case FormatRG8, FormatDepth16:
		return 2
	case FormatRGBA8, FormatRGBA8SRGB, FormatBGRA8, FormatDepth32F, FormatDepth24Stencil8:
		return 4
	case FormatRGBA16F:
		return 8
	case FormatRGBA32F:
		return 16
	}
	return 0
}

// BytesPerBlock is the byte size of one compressed block. Zero for
// uncompressed formats.
func (f Format) BytesPerBlock() int {
	switch f {
	case FormatBC7RGBA:
		return 16
	case FormatETC2RGB8:
		return 8
	}
	return 0
}

// BlockDimensions returns the pixel width and height of one compressed
// block, or 1x1 for uncompressed formats.
func (f Format) BlockDimensions() (int, int) {
	if f.IsCompressed() {
		return 4, 4
	}
	return 1, 1
}

// texelSize is the per-unit byte cost used for upload sizing: bytes per
// block for compressed formats, bytes per pixel otherwise.
func (f Format) texelSize() int {
	if f.IsCompressed() {
		return f.BytesPerBlock()
	}
	return f.BytesPerPixel()
}

func mipDimension(base int, level int) int {
	d := base >> uint(level)
	if d < 1 {
		return 1
	}
	return d
}

// SliceBytes is the tightly-packed byte size of one array slice at the
// given mip level.
func (f Format) SliceBytes(width, height, depth int, level int) int {
	w := mipDimension(width, level)
	h := mipDimension(height, level)
	d := mipDimension(depth, level)

	if f.IsCompressed() {
		bw, bh := f.BlockDimensions()
		blocksWide := (w + bw - 1) / bw
		blocksHigh := (h + bh - 1) / bh
		return blocksWide * blocksHigh * d * f.BytesPerBlock()
	}
	return w * h * d * f.BytesPerPixel()
}
