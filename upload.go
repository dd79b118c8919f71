// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// uploadAlign is the byte alignment of upload allocations.
const uploadAlign = 64

// uploadMode is how an upload buffer reaches device memory.
type uploadMode uint8

const (
	// uploadCPU writes through a persistent CPU mapping.
	uploadCPU uploadMode = iota
	// uploadDevice writes through a persistent device mapping.
	uploadDevice
	// uploadCopy writes to a shadow copied in at submission.
	uploadCopy
)

// String returns the string representation of uploadMode.
func (u uploadMode) String() string {
	switch u {
	case uploadCPU:
		return "cpu"
	case uploadDevice:
		return "device"
	case uploadCopy:
		return "copy"
	default:
		return fmt.Sprintf("Unknown(%d)", int(u))
	}
}

// partial is a backing object that upload buffers are carved from.
type partial struct {
	backing uint32
	mode    uploadMode
	used    int
	size    int
	mem     []byte

	// dirty byte range of a copy-in shadow not yet written.
	dirtyLo, dirtyHi int

	// live counts proxies still handed out from this partial.
	live int
}

func (p *partial) markDirty(lo, hi int) {
	if p.dirtyHi == 0 {
		p.dirtyLo, p.dirtyHi = lo, hi
		return
	}
	p.dirtyLo = min(p.dirtyLo, lo)
	p.dirtyHi = max(p.dirtyHi, hi)
}

// Upload returns a scratch buffer of size bytes for the device to read,
// carved out of a shared backing object, and the memory to fill it. The
// returned object is a proxy; release it once the batch referencing it has
// been built.
//
// flags may carry CreateCPUMap or CreateGTTMap to ask for a mapped buffer.
// Copy-in buffers are written to the device when the batch is submitted.
func (m *Manager) Upload(size int, flags CreateFlags) (BO, []byte, error) {
	if m.closed {
		return NoBO, nil, ErrClosed
	}
	if size <= 0 {
		return NoBO, nil, fmt.Errorf("%w: upload of %d bytes", ErrInvalidSize, size)
	}

	mode := m.uploadMode(size, flags)
	p := m.findPartial(mode, size)
	if p == nil {
		var err error
		p, err = m.newPartial(mode, size)
		if err != nil {
			return NoBO, nil, err
		}
	}

	if p.mode != uploadCopy {
		m.remapPartial(p)
	}

	off := (p.used + uploadAlign - 1) &^ (uploadAlign - 1)
	backing := m.objs[p.backing]
	b, err := m.Proxy(backing.ref(), off, size)
	if err != nil {
		return NoBO, nil, err
	}
	proxy, _ := m.get(b)
	proxy.proxyUser = p
	p.live++
	p.used = off + size
	if p.mode == uploadCopy {
		p.markDirty(off, off+size)
	}
	m.stats.Uploads++
	return b, p.mem[off : off+size : off+size], nil
}

// UploadData copies data into a new upload buffer.
func (m *Manager) UploadData(data []byte) (BO, error) {
	b, mem, err := m.Upload(len(data), 0)
	if err != nil {
		return NoBO, err
	}
	copy(mem, data)
	return b, nil
}

// uploadMode picks the strategy for one upload. Coherent devices write
// through a CPU mapping. Otherwise a device mapping is used while the
// device-mapping cache has room, and large or overflow uploads are copied.
func (m *Manager) uploadMode(size int, flags CreateFlags) uploadMode {
	coherent := m.params.HasLLC || m.params.HasSnoop
	switch {
	case flags&CreateCPUMap != 0 && coherent:
		return uploadCPU
	case flags&CreateGTTMap != 0:
		return uploadDevice
	case size > m.cfg.UploadPartialSize/4:
		return uploadCopy
	case coherent:
		return uploadCPU
	case m.maps[MapDevice].lru.Len() < m.maps[MapDevice].limit/2:
		return uploadDevice
	default:
		return uploadCopy
	}
}

// findPartial returns a partial of the given mode with room for size bytes.
// A partial whose backing object is owned by a submitted request cannot be
// written until it retires; an idle one with no live proxies starts over.
func (m *Manager) findPartial(mode uploadMode, size int) *partial {
	for _, p := range m.partials {
		if p.mode != mode {
			continue
		}
		o := m.objs[p.backing]
		if o.rq != nil && o.rq != m.batch.rq {
			continue
		}
		if o.rq == nil && p.live == 0 && p.dirtyHi == 0 {
			p.used = 0
		}
		off := (p.used + uploadAlign - 1) &^ (uploadAlign - 1)
		if off+size <= p.size {
			return p
		}
	}
	return nil
}

// newPartial allocates a backing object for mode, evicting the oldest
// partial beyond MaxPartials. A failed mapping falls back to copy-in.
func (m *Manager) newPartial(mode uploadMode, size int) (*partial, error) {
	for len(m.partials) >= m.cfg.MaxPartials {
		m.releasePartial(m.partials[0])
		m.partials = m.partials[1:]
	}

	bytes := max(m.cfg.UploadPartialSize, size)
	r := allocRequest{pages: tier.PagesFor(bytes, kernel.PageSize), flags: CreateInactive}
	switch mode {
	case uploadCPU:
		r.flags |= CreateCPUMap
		if !m.params.HasLLC {
			r.flags |= CreateSnoop
		}
	case uploadDevice:
		r.flags |= CreateGTTMap
	}
	o, err := m.acquire(r)
	if err != nil {
		return nil, fmt.Errorf("upload buffer: %w", err)
	}

	p := &partial{backing: o.idx, mode: mode, size: r.pages * kernel.PageSize}
	switch mode {
	case uploadCPU, uploadDevice:
		kind := MapCPU
		if mode == uploadDevice {
			kind = MapDevice
		}
		mem, err := m.mapObject(o, kind)
		if err == nil {
			p.mem = mem
			break
		}
		Logger().Debug("bufmgr: upload mapping failed, copying instead", "mode", mode, "err", err)
		p.mode = uploadCopy
		fallthrough
	case uploadCopy:
		p.mem = make([]byte, p.size)
	}
	m.partials = append(m.partials, p)
	return p, nil
}

// remapPartial makes sure a mapped partial still has its mapping, which the
// mapping cache may have evicted, and refreshes its place in the LRU. If
// the backing object cannot be mapped again the partial continues as a
// copy-in shadow.
func (m *Manager) remapPartial(p *partial) {
	kind := MapCPU
	if p.mode == uploadDevice {
		kind = MapDevice
	}
	o := m.objs[p.backing]
	mem, err := m.mapObject(o, kind)
	if err == nil {
		p.mem = mem
		return
	}
	Logger().Debug("bufmgr: upload mapping lost, copying instead", "mode", p.mode, "bo", o.ref(), "err", err)
	p.mode = uploadCopy
	p.mem = make([]byte, p.size)
}

// flushPartial writes the dirty range of a copy-in shadow.
func (m *Manager) flushPartial(p *partial) error {
	if p.mode != uploadCopy || p.dirtyHi == 0 {
		return nil
	}
	o := m.objs[p.backing]
	if err := m.k.Write(o.handle, uint64(p.dirtyLo), p.mem[p.dirtyLo:p.dirtyHi]); err != nil {
		return fmt.Errorf("upload write: %w", err)
	}
	p.dirtyLo, p.dirtyHi = 0, 0
	return nil
}

// finishUploads writes every pending copy-in range before submission.
func (m *Manager) finishUploads() error {
	for _, p := range m.partials {
		if err := m.flushPartial(p); err != nil {
			return err
		}
	}
	return nil
}

// discardUploads drops pending copy-in ranges of a discarded batch.
func (m *Manager) discardUploads() {
	for _, p := range m.partials {
		p.dirtyLo, p.dirtyHi = 0, 0
	}
}

// releasePartial writes out a partial and drops its backing reference.
// Proxies still alive keep the backing object themselves.
func (m *Manager) releasePartial(p *partial) {
	if err := m.flushPartial(p); err != nil {
		Logger().Warn("bufmgr: upload flush failed", "err", err)
	}
	m.unref(m.objs[p.backing])
}
