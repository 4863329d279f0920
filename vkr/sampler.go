package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// NewSampler creates a linear-filtering, repeat-addressing sampler whose
// LOD range covers the texture's full mip chain.
func (t *Texture) NewSampler() (core1_0.Sampler, error) {
	properties, err := t.ctx.instanceDriver.GetPhysicalDeviceProperties(t.ctx.physicalDevice)
	if err != nil {
		return core1_0.Sampler{}, err
	}

	sampler, _, err := t.ctx.deviceDriver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(t.desc.NumMipLevels),
	})
	if err != nil {
		return core1_0.Sampler{}, errors.Wrap(err, "creating sampler")
	}
	return sampler, nil
}
