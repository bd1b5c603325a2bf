// Copyright 2026 The voxview Authors
// SPDX-License-Identifier: MIT

package hardware

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// ErrNoVulkan is returned by Probe when no usable Vulkan backend exists.
var ErrNoVulkan = errors.New("hardware: vulkan backend not available")

// Probe reports whether a GPU suitable for compute ray casting is present.
// It creates a throwaway instance, enumerates adapters, and tears the
// instance down again; no device is opened. Probe is synchronous and safe
// to call from engine backend detection.
func Probe() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return ErrNoVulkan
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("hardware: create instance: %w", err)
	}
	defer instance.Destroy()
	if len(instance.EnumerateAdapters(nil)) == 0 {
		return errors.New("hardware: no GPU adapters found")
	}
	return nil
}

// deviceHandle owns (or borrows) the HAL device and queue the adapter
// renders with. external marks shared devices that must not be destroyed.
type deviceHandle struct {
	instance hal.Instance
	dev      hal.Device
	queue    hal.Queue
	name     string
	external bool
}

// openDevice creates a standalone Vulkan instance and opens the most
// capable adapter, preferring discrete over integrated GPUs.
func openDevice() (*deviceHandle, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoVulkan
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("hardware: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("hardware: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		for i := range adapters {
			if adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
				selected = &adapters[i]
				break
			}
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("hardware: open device: %w", err)
	}
	return &deviceHandle{
		instance: instance,
		dev:      openDev.Device,
		queue:    openDev.Queue,
		name:     selected.Info.Name,
	}, nil
}

// sharedDevice wraps device and queue handles borrowed from a host
// application. Closing it leaves the handles alone.
func sharedDevice(dev hal.Device, queue hal.Queue) *deviceHandle {
	return &deviceHandle{
		dev:      dev,
		queue:    queue,
		name:     "shared",
		external: true,
	}
}

func (d *deviceHandle) close() {
	if d.external {
		d.dev = nil
		d.queue = nil
		return
	}
	if d.dev != nil {
		d.dev.Destroy()
		d.dev = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
}
