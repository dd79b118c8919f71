// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/gogpu/bufmgr"
	"github.com/gogpu/bufmgr/internal/config"
	"github.com/gogpu/bufmgr/kernel/fake"
	"github.com/gogpu/bufmgr/tiling"
)

// Command headers emitted by the workload. The devices do not decode them.
const (
	cmdPrimitive uint32 = 0x7b000000
	cmdBlit      uint32 = 0x54c00000
)

// simulator issues frames of draws against a manager. mu serializes the
// workload with the debug endpoint.
type simulator struct {
	mu   sync.Mutex
	m    *bufmgr.Manager
	fake *fake.Kernel
	cfg  config.WorkloadConfig
	rng  *rand.Rand

	completeEvery int
	target        bufmgr.Surface
	scratch       []byte

	frames int
	draws  int
	blits  int
}

func newSimulator(m *bufmgr.Manager, fk *fake.Kernel, cfg *config.Config) (*simulator, error) {
	w := cfg.Workload
	target, err := m.CreateSurface(w.SurfaceWidth, w.SurfaceHeight, 32, bufmgr.TilingX, tiling.Scanout)
	if err != nil {
		return nil, fmt.Errorf("create render target: %w", err)
	}
	seed := uint64(w.Seed)
	return &simulator{
		m:             m,
		fake:          fk,
		cfg:           w,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		completeEvery: cfg.Device.CompleteEvery,
		target:        target,
		scratch:       make([]byte, 4096),
	}, nil
}

// Run executes the configured number of frames or stops when ctx ends.
func (s *simulator) Run(ctx context.Context) error {
	for f := 0; f < s.cfg.Frames; f++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.frame(); err != nil {
			return fmt.Errorf("frame %d: %w", f, err)
		}
	}
	return nil
}

func (s *simulator) frame() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.m.SetMode(bufmgr.RingRender); err != nil {
		return err
	}
	for range s.cfg.DrawsPerFrame {
		if err := s.draw(); err != nil {
			return err
		}
	}
	if err := s.blit(); err != nil {
		return err
	}
	if err := s.m.Submit(); err != nil {
		return err
	}
	s.frames++
	if s.fake != nil && s.completeEvery > 0 && s.frames%s.completeEvery == 0 {
		s.fake.CompleteAll()
	}
	s.m.Retire()
	s.m.Expire()
	return nil
}

// payload returns n bytes of pseudo-random vertex data.
func (s *simulator) payload(n int) []byte {
	if n > len(s.scratch) {
		n = len(s.scratch)
	}
	for i := range n {
		s.scratch[i] = byte(s.rng.Uint32())
	}
	return s.scratch[:n]
}

// draw fills a vertex buffer, uploads constants and emits one primitive
// reading both and writing the render target.
func (s *simulator) draw() error {
	size := 64 + s.rng.IntN(s.cfg.MaxObjectSize)
	vbo, err := s.m.Acquire(size, bufmgr.TilingNone, 0)
	if err != nil {
		return fmt.Errorf("acquire vertex buffer: %w", err)
	}
	defer s.m.Release(vbo)
	if err := s.m.Write(vbo, 0, s.payload(min(size, 256))); err != nil {
		return err
	}

	bos := []bufmgr.BO{s.target.BO, vbo}
	for range s.cfg.UploadsPerDraw {
		up, err := s.m.UploadData(s.payload(64 + s.rng.IntN(1024)))
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		defer s.m.Release(up)
		bos = append(bos, up)
	}

	if !s.m.CheckSpace(1+len(bos), len(bos), len(bos)) || !s.m.CheckBOs(bos...) {
		if err := s.m.Submit(); err != nil {
			return err
		}
	}
	if err := s.m.Emit(cmdPrimitive | uint32(len(bos)-1)); err != nil {
		return err
	}
	if err := s.m.EmitReloc(s.target.BO, bufmgr.AccessRead|bufmgr.AccessWrite, 0); err != nil {
		return err
	}
	for _, b := range bos[1:] {
		if err := s.m.EmitReloc(b, bufmgr.AccessRead, 0); err != nil {
			return err
		}
	}
	s.draws++
	return nil
}

// blit copies the render target into a fresh staging object on the copy
// ring, which falls back to the render ring on devices without one.
func (s *simulator) blit() error {
	staging, err := s.m.Acquire(s.target.Size, bufmgr.TilingNone, 0)
	if err != nil {
		return fmt.Errorf("acquire staging: %w", err)
	}
	defer s.m.Release(staging)

	if err := s.m.SetMode(bufmgr.RingBlt); err != nil {
		return err
	}
	if !s.m.CheckSpace(3, 2, 2) || !s.m.CheckBOs(s.target.BO, staging) {
		if err := s.m.Submit(); err != nil {
			return err
		}
	}
	if err := s.m.Emit(cmdBlit); err != nil {
		return err
	}
	if err := s.m.EmitReloc(staging, bufmgr.AccessWrite, 0); err != nil {
		return err
	}
	if err := s.m.EmitReloc(s.target.BO, bufmgr.AccessRead, 0); err != nil {
		return err
	}
	s.blits++
	return nil
}

// progress is a snapshot of the workload counters.
type progress struct {
	Frames int `json:"frames"`
	Draws  int `json:"draws"`
	Blits  int `json:"blits"`
}

// snapshot returns the workload and manager counters consistently.
func (s *simulator) snapshot() (progress, bufmgr.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progress{Frames: s.frames, Draws: s.draws, Blits: s.blits}, s.m.Stats()
}

// requests lists the outstanding requests of ring.
func (s *simulator) requests(ring bufmgr.Ring) []bufmgr.RequestInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Requests(ring)
}
