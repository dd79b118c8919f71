// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"fmt"
)

// Command words written by the builder itself.
const (
	cmdNoop     uint32 = 0
	cmdBatchEnd uint32 = 0x0a << 23

	// reserveWords is kept free for the end marker and its padding.
	reserveWords = 2

	// stateAlign is the word alignment of state allocations.
	stateAlign = 16
)

// reloc is one relocation table entry. pos is the word index of the
// patched dword in the batch.
type reloc struct {
	pos      int
	target   uint32
	self     bool
	delta    uint32
	access   uint32
	presumed uint64
	resolved bool
}

// batch is the open command buffer.
//
// Commands grow up from the front of words; indirect state grows down from
// the end. The two regions never overlap: reserveWords separate them.
type batch struct {
	words   []uint32
	nbatch  int
	surface int

	relocs []reloc
	exec   []uint32

	ring     Ring
	rq       *request
	aperture int
	full     bool
}

func newBatch(cfg Config) batch {
	return batch{
		words:   make([]uint32, cfg.BatchWords),
		surface: cfg.BatchWords,
		relocs:  make([]reloc, 0, cfg.MaxRelocs),
		exec:    make([]uint32, 0, cfg.MaxExec),
	}
}

func (b *batch) empty() bool {
	return b.nbatch == 0 && b.surface == len(b.words) && len(b.relocs) == 0 && len(b.exec) == 0
}

// resetBatch opens a fresh batch on the same ring with a new request.
func (m *Manager) resetBatch() {
	b := &m.batch
	clear(b.words[:b.nbatch])
	clear(b.words[b.surface:])
	b.nbatch = 0
	b.surface = len(b.words)
	b.relocs = b.relocs[:0]
	b.exec = b.exec[:0]
	b.aperture = 0
	b.full = false
	b.rq = m.beginRequest(b.ring)
}

// discardBatch throws the open batch away without submitting it.
func (m *Manager) discardBatch() {
	m.discardUploads()
	rq := m.batch.rq
	for idx := range rq.members.All() {
		o := m.objs[idx]
		rq.members.Remove(idx)
		o.rq = nil
		o.exec = -1
		o.dirty = false
		if prev := o.prev; prev != nil && !prev.retired {
			// Still in flight from an earlier batch.
			o.prev = nil
			o.rq = prev
			prev.members.PushBack(idx)
			continue
		}
		o.prev = nil
		if o.refcnt == 0 {
			m.unlink(o)
			m.dispose(o)
		}
	}
	m.resetBatch()
}

// Discard throws away the open batch. Objects it referenced return to the
// cache if nothing else holds them.
func (m *Manager) Discard() error {
	if m.closed {
		return ErrClosed
	}
	m.discardBatch()
	return nil
}

// State returns the state of the open batch.
func (m *Manager) State() BatchState {
	switch {
	case m.batch.full:
		return BatchFull
	case m.batch.empty():
		return BatchEmpty
	default:
		return BatchAccumulating
	}
}

// Ring returns the ring the open batch targets.
func (m *Manager) Ring() Ring {
	return m.batch.ring
}

// SetMode selects the ring of the open batch. A batch already holding work
// for the other ring is submitted first. Devices without a copy ring run
// everything on the render ring.
func (m *Manager) SetMode(ring Ring) error {
	if ring == RingBlt && !m.params.HasBLT {
		ring = RingRender
	}
	if ring == m.batch.ring {
		return nil
	}
	if !m.batch.empty() {
		if err := m.Submit(); err != nil {
			return err
		}
	}
	m.batch.ring = ring
	m.batch.rq.ring = ring
	return nil
}

// CheckSpace reports whether words command words, relocs relocations and
// exec new objects fit in the open batch. Clients call it before emitting a
// command; a false result marks the batch full and the client must Submit.
func (m *Manager) CheckSpace(words, relocs, exec int) bool {
	b := &m.batch
	ok := b.nbatch+words+reserveWords <= b.surface &&
		len(b.relocs)+relocs <= cap(b.relocs) &&
		len(b.exec)+exec+1 <= cap(b.exec)
	if !ok {
		b.full = true
	}
	return ok
}

// CheckBOs reports whether the objects fit in the open batch's execution
// list and aperture budget. Objects already in the batch cost nothing.
func (m *Manager) CheckBOs(bos ...BO) bool {
	b := &m.batch
	count, pages := 0, 0
	for _, h := range bos {
		o, _, err := m.resolve(h)
		if err != nil || o.inBatch() {
			continue
		}
		count++
		pages += o.pages
	}
	ok := len(b.exec)+count+1 <= cap(b.exec) && b.aperture+pages <= m.limits.aperturePages
	if !ok {
		b.full = true
	}
	return ok
}

// Pos returns the index of the next command word.
func (m *Manager) Pos() int {
	return m.batch.nbatch
}

// Emit appends command words. If they do not fit nothing is written and
// ErrBatchFull is returned.
func (m *Manager) Emit(words ...uint32) error {
	b := &m.batch
	if b.nbatch+len(words)+reserveWords > b.surface {
		b.full = true
		return fmt.Errorf("%w: %d words at %d, state at %d", ErrBatchFull, len(words), b.nbatch, b.surface)
	}
	copy(b.words[b.nbatch:], words)
	b.nbatch += len(words)
	return nil
}

// AllocState reserves n words of indirect state at the end of the batch,
// aligned to 16 words. It returns the word index of the allocation and the
// words themselves for the caller to fill.
func (m *Manager) AllocState(n int) (int, []uint32, error) {
	b := &m.batch
	if n <= 0 {
		return 0, nil, fmt.Errorf("%w: state of %d words", ErrInvalidSize, n)
	}
	start := (b.surface - n) &^ (stateAlign - 1)
	if start < b.nbatch+reserveWords {
		b.full = true
		return 0, nil, fmt.Errorf("%w: state of %d words", ErrBatchFull, n)
	}
	b.surface = start
	return start, b.words[start : start+n : start+n], nil
}

// Relocate records that the dword at word index pos holds the address of b
// plus delta, and writes the best known value there. The value is returned
// for callers that assemble the command themselves. A relocation against a
// proxy is forwarded to its target with the proxy offset added to delta.
//
// Objects without a known address are written as delta alone and patched
// at submission.
func (m *Manager) Relocate(pos int, b BO, access, delta uint32) (uint32, error) {
	bt := &m.batch
	if pos < 0 || pos >= len(bt.words) || (pos > bt.nbatch && pos < bt.surface) {
		return 0, fmt.Errorf("%w: relocation at word %d", ErrInvalidSize, pos)
	}
	o, offset, err := m.resolve(b)
	if err != nil {
		return 0, err
	}
	if len(bt.relocs) == cap(bt.relocs) {
		bt.full = true
		return 0, fmt.Errorf("%w: relocation table", ErrBatchFull)
	}
	if !o.inBatch() {
		if len(bt.exec)+1 >= cap(bt.exec) {
			bt.full = true
			return 0, fmt.Errorf("%w: execution list", ErrBatchFull)
		}
		o.exec = len(bt.exec)
		bt.exec = append(bt.exec, o.idx)
		bt.aperture += o.pages
		m.attach(bt.rq, o)
	}
	if access&AccessWrite != 0 {
		o.dirty = true
		o.needsFlush = true
	}

	delta += uint32(offset)
	r := reloc{pos: pos, target: o.idx, delta: delta, access: access, presumed: o.presumed}
	value := delta
	if o.presumed != noAddress {
		r.resolved = true
		value = uint32(o.presumed) + delta
	}
	bt.relocs = append(bt.relocs, r)
	bt.words[pos] = value
	return value, nil
}

// EmitReloc appends one relocated address word.
func (m *Manager) EmitReloc(b BO, access, delta uint32) error {
	if m.batch.nbatch+1+reserveWords > m.batch.surface {
		m.batch.full = true
		return fmt.Errorf("%w: relocation word", ErrBatchFull)
	}
	if _, err := m.Relocate(m.batch.nbatch, b, access, delta); err != nil {
		return err
	}
	m.batch.nbatch++
	return nil
}

// RelocateSelf records that the dword at pos holds the address of the batch
// itself plus delta, typically a pointer into the state region. The batch
// has no address until submission, so the value is always fixed up there.
func (m *Manager) RelocateSelf(pos int, access, delta uint32) (uint32, error) {
	bt := &m.batch
	if pos < 0 || pos >= len(bt.words) || (pos > bt.nbatch && pos < bt.surface) {
		return 0, fmt.Errorf("%w: relocation at word %d", ErrInvalidSize, pos)
	}
	if len(bt.relocs) == cap(bt.relocs) {
		bt.full = true
		return 0, fmt.Errorf("%w: relocation table", ErrBatchFull)
	}
	bt.relocs = append(bt.relocs, reloc{pos: pos, self: true, delta: delta, access: access})
	bt.words[pos] = delta
	return delta, nil
}
