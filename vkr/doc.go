// Package vkr manages the lifecycle of Vulkan image resources and moves
// pixel data into them through a reusable staging pipeline.
//
// The entry point is a DeviceContext assembled over an existing device via
// NewDeviceContext. CreateTexture validates a TextureDescriptor, allocates
// the image and memory, and creates a primary sampling view; Upload stages
// caller-supplied pixel data (optionally row-padded, multi-layer or 3D)
// and records asynchronous buffer-to-image copies; GenerateMipChain fills
// the remaining mip levels from level 0; AttachmentView lazily caches
// per-mip views for framebuffer use.
//
// Transfers are submitted to the device without blocking the caller. The
// staging device tracks each submission with a fence and exposes the
// signal semaphore of the latest one so a renderer can order its first use
// of the data after the copy.
package vkr
