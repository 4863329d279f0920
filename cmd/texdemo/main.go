package main

import (
	"bytes"
	"flag"
	"hash/crc32"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"

	"github.com/Hengle/lightweightvk/vkr"
)

// texdemo exercises the full texture pipeline on a real device: it creates
// a headless instance and logical device, uploads a gradient into a 256x256
// texture, generates its mip chain and reads the base level back.

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

type demoApp struct {
	logger *slog.Logger

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	physicalDevice   core1_0.PhysicalDevice
	queueFamilyIndex int

	enableValidation bool
}

func (app *demoApp) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "texdemo",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := app.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	if app.enableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if app.enableValidation {
		layers, _, err := app.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}
		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("createInstance: layer %s not available- install LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}
	}

	app.instanceDriver, _, err = app.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (app *demoApp) pickPhysicalDevice() error {
	physicalDevices, _, err := app.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		queueFamilies := app.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)
		for queueFamilyIdx, queueFamily := range queueFamilies {
			if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
				app.physicalDevice = device
				app.queueFamilyIndex = queueFamilyIdx
				return nil
			}
		}
	}

	return errors.New("failed to find a GPU with a graphics queue")
}

func (app *demoApp) createLogicalDevice() error {
	var extensionNames []string

	// Makes this demo compatible with vulkan portability, necessary to run on mobile & mac
	extensions, _, err := app.instanceDriver.EnumerateDeviceExtensionProperties(app.physicalDevice)
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	app.deviceDriver, _, err = app.instanceDriver.CreateDevice(app.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: app.queueFamilyIndex,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
		},
		EnabledExtensionNames: extensionNames,
	})
	return err
}

func gradient(width, height int) []byte {
	data := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			offset := (y*width + x) * 4
			data[offset] = byte(x)
			data[offset+1] = byte(y)
			data[offset+2] = byte(x ^ y)
			data[offset+3] = 255
		}
	}
	return data
}

func (app *demoApp) run() error {
	var err error
	app.globalDriver, err = core.CreateSystemDriver()
	if err != nil {
		return errors.Wrap(err, "loading the vulkan runtime")
	}

	if err = app.createInstance(); err != nil {
		return err
	}
	defer app.instanceDriver.DestroyInstance(nil)

	if err = app.pickPhysicalDevice(); err != nil {
		return err
	}
	if err = app.createLogicalDevice(); err != nil {
		return err
	}
	defer app.deviceDriver.DestroyDevice(nil)

	ctx, err := vkr.NewDeviceContext(vkr.ContextOptions{
		DeviceDriver:         app.deviceDriver,
		InstanceDriver:       app.instanceDriver,
		PhysicalDevice:       app.physicalDevice,
		QueueFamilyIndex:     app.queueFamilyIndex,
		Logger:               app.logger,
		AttachDebugMessenger: app.enableValidation,
	})
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	const side = 256
	texture, err := vkr.CreateTexture(ctx, vkr.TextureDescriptor{
		Type:         vkr.TextureType2D,
		Format:       vkr.FormatRGBA8,
		Width:        side,
		Height:       side,
		NumMipLevels: vkr.CalcNumMipLevels(side, side),
		Usage:        vkr.UsageSampled | vkr.UsageAttachment,
		DebugName:    "demo-gradient",
	})
	if err != nil {
		return err
	}
	defer texture.Destroy()

	source := gradient(side, side)
	if err = texture.Upload(vkr.UploadRange{Width: side, Height: side}, source, 0); err != nil {
		return err
	}
	if err = texture.GenerateMipChain(); err != nil {
		return err
	}

	sampler, err := texture.NewSampler()
	if err != nil {
		return err
	}
	defer app.deviceDriver.DestroySampler(sampler, nil)

	readback, err := texture.Download(vkr.UploadRange{Width: side, Height: side})
	if err != nil {
		return err
	}
	if !bytes.Equal(source, readback) {
		return errors.New("base level readback does not match the uploaded data")
	}

	app.logger.Info("pipeline complete",
		slog.Int("mipLevels", texture.NumMipLevels()),
		slog.Uint64("baseLevelCRC", uint64(crc32.ChecksumIEEE(readback))))
	return nil
}

func main() {
	validation := flag.Bool("validation", false, "enable validation layers and route their output to the log")
	verbose := flag.Bool("verbose", false, "log transfer timings")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := &demoApp{
		logger:           logger,
		enableValidation: *validation,
	}
	if err := app.run(); err != nil {
		logger.Error("demo failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
