// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package main

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/bufmgr"
	"github.com/gogpu/bufmgr/internal/config"
	"github.com/gogpu/bufmgr/kernel/halkernel"
)

// openHAL opens the noop wgpu HAL device and wraps it in the HAL backend.
func openHAL(cfg *config.Config) (*device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no HAL adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open adapter: %w", err)
	}
	halkernel.SetLogger(bufmgr.Logger())
	k, err := halkernel.New(openDev.Device, openDev.Queue, halkernel.Options{Params: cfg.Params()})
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	return &device{
		Kernel: k,
		close: func() {
			k.Close()
			openDev.Device.Destroy()
			instance.Destroy()
		},
	}, nil
}
