// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"

	"github.com/gogpu/bufmgr/internal/config"
	"github.com/gogpu/bufmgr/kernel"
	"github.com/gogpu/bufmgr/kernel/fake"
)

// device is the kernel a run uses and how to release it.
type device struct {
	kernel.Kernel

	// fake is set for the in-memory backend so the workload can complete
	// submissions.
	fake *fake.Kernel

	close func()
}

func openDevice(cfg *config.Config) (*device, error) {
	switch cfg.Device.Backend {
	case "fake":
		k := fake.New(cfg.Params())
		return &device{Kernel: k, fake: k, close: func() {}}, nil
	case "hal":
		return openHAL(cfg)
	default:
		return nil, fmt.Errorf("unknown device backend %q", cfg.Device.Backend)
	}
}
