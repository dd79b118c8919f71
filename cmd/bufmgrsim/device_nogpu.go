// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build nogpu

package main

import (
	"github.com/gogpu/bufmgr/internal/config"
	"github.com/gogpu/bufmgr/kernel"
)

func openHAL(*config.Config) (*device, error) {
	return nil, kernel.ErrNoDevice
}
