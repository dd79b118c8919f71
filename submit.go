// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/bufmgr/internal/tier"
	"github.com/gogpu/bufmgr/kernel"
)

// Submit terminates the open batch and hands it to the kernel. On success
// every referenced object is owned by the new request until it retires and
// a fresh batch is opened. An empty batch is not submitted.
//
// A device hang detected here wedges the manager; the batch is discarded
// and ErrWedged is returned, now and for every later Submit.
func (m *Manager) Submit() error {
	if m.closed {
		return ErrClosed
	}
	if m.wedged {
		m.discardBatch()
		return ErrWedged
	}
	if m.batch.empty() {
		m.batch.full = false
		return nil
	}
	if err := m.finishUploads(); err != nil {
		m.wedge("upload", err)
		return fmt.Errorf("%w: %w", ErrWedged, err)
	}

	b := &m.batch
	end := b.nbatch + 1
	end += end % 2
	layout := m.planLayout(end)
	o, err := m.acquire(allocRequest{
		pages: tier.PagesFor(layout.size, kernel.PageSize),
		flags: CreateInactive,
	})
	if err != nil {
		// The batch is untouched; the client may retire and try again.
		return fmt.Errorf("batch object: %w", err)
	}

	b.words[b.nbatch] = cmdBatchEnd
	if end > b.nbatch+1 {
		b.words[b.nbatch+1] = cmdNoop
	}
	b.nbatch = end
	m.compact(layout)
	m.fixupSelf(o)

	if err := m.writeBatch(o, layout); err != nil {
		m.destroyObject(o)
		m.wedge("batch write", err)
		return fmt.Errorf("%w: %w", ErrWedged, err)
	}

	eb := m.execbuffer(o)
	if err := m.execute(eb); err != nil {
		o.reusable = false
		m.unref(o)
		m.wedge("execute", err)
		return fmt.Errorf("%w: %w", ErrWedged, err)
	}
	m.commit(o, eb)
	m.resetBatch()
	return nil
}

// batchLayout describes how the batch words are placed in the backing
// object.
type batchLayout struct {
	// size is the backing object size in bytes.
	size int
	// split reports that state stays at the end and needs a second write.
	split bool
	// start is the word index the state region moves down to.
	start int
}

// planLayout decides the placement of a batch of end command words. The
// state region is moved down to follow the commands when that shrinks the
// backing object; otherwise the two regions are written separately.
func (m *Manager) planLayout(end int) batchLayout {
	b := &m.batch
	if b.surface == len(b.words) {
		return batchLayout{size: end * 4}
	}
	stateLen := len(b.words) - b.surface
	start := (end + stateAlign - 1) &^ (stateAlign - 1)
	full := tier.PagesFor(len(b.words)*4, kernel.PageSize)
	packed := tier.PagesFor((start+stateLen)*4, kernel.PageSize)
	if packed >= full {
		return batchLayout{size: len(b.words) * 4, split: true}
	}
	return batchLayout{size: (start + stateLen) * 4, start: start}
}

// compact applies a packed layout, rewriting relocations that point into
// the moved state.
func (m *Manager) compact(layout batchLayout) {
	b := &m.batch
	if layout.split || b.surface == len(b.words) {
		return
	}
	stateLen := len(b.words) - b.surface
	shift := b.surface - layout.start
	copy(b.words[layout.start:], b.words[b.surface:])
	clear(b.words[layout.start+stateLen:])
	lo := uint32(b.surface * 4)
	for i := range b.relocs {
		r := &b.relocs[i]
		if r.pos >= b.surface {
			r.pos -= shift
		}
		if r.self && r.delta >= lo {
			r.delta -= uint32(shift * 4)
			b.words[r.pos] = r.delta
		}
	}
	b.surface = layout.start
}

// fixupSelf patches relocations that could not be resolved when they were
// emitted: references to the batch itself, and objects that got an address
// after the relocation was recorded.
func (m *Manager) fixupSelf(batchObj *bo) {
	b := &m.batch
	for i := range b.relocs {
		r := &b.relocs[i]
		if r.resolved {
			continue
		}
		addr := batchObj.presumed
		if !r.self {
			addr = m.objs[r.target].presumed
		}
		if addr == noAddress {
			continue
		}
		r.presumed = addr
		r.resolved = true
		b.words[r.pos] = uint32(addr) + r.delta
	}
}

// writeBatch copies the batch into its backing object in one write, or two
// when the state region was left at the end.
func (m *Manager) writeBatch(o *bo, layout batchLayout) error {
	b := &m.batch
	if !layout.split {
		return m.k.Write(o.handle, 0, wordBytes(b.words[:layout.size/4]))
	}
	if err := m.k.Write(o.handle, 0, wordBytes(b.words[:b.nbatch])); err != nil {
		return err
	}
	return m.k.Write(o.handle, uint64(b.surface*4), wordBytes(b.words[b.surface:]))
}

func wordBytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// execbuffer assembles the kernel submission. The batch object is last.
func (m *Manager) execbuffer(batchObj *bo) *kernel.Execbuffer {
	b := &m.batch
	eb := &kernel.Execbuffer{
		Objects:  make([]kernel.ExecObject, 0, len(b.exec)+1),
		Relocs:   make([]kernel.Relocation, 0, len(b.relocs)),
		BatchLen: uint32(b.nbatch * 4),
		Ring:     b.ring,
	}
	for _, idx := range b.exec {
		o := m.objs[idx]
		eb.Objects = append(eb.Objects, kernel.ExecObject{
			Handle: o.handle,
			Offset: o.presumed,
			Write:  o.dirty,
		})
	}
	eb.Objects = append(eb.Objects, kernel.ExecObject{Handle: batchObj.handle, Offset: batchObj.presumed})

	for _, r := range b.relocs {
		target := batchObj.handle
		if !r.self {
			target = m.objs[r.target].handle
		}
		eb.Relocs = append(eb.Relocs, kernel.Relocation{
			Offset:   uint32(r.pos * 4),
			Target:   target,
			Delta:    r.delta,
			Presumed: r.presumed,
			Access:   r.access,
		})
	}
	return eb
}

// execute runs the submission, retrying a bounded number of times while the
// device reports busy. Busy beyond the limit, a failed throttle or any other
// error is returned as a hang.
func (m *Manager) execute(eb *kernel.Execbuffer) error {
	for attempt := 0; ; attempt++ {
		err := m.k.Execute(eb)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kernel.ErrBusy) {
			return err
		}
		if attempt >= m.cfg.SubmitRetries {
			return fmt.Errorf("busy after %d retries: %w", attempt, err)
		}
		m.stats.Retries++
		Logger().Debug("bufmgr: device busy, throttling", "attempt", attempt+1)
		if terr := m.k.Throttle(); terr != nil {
			return fmt.Errorf("throttle: %w", terr)
		}
		m.Retire()
	}
}

// commit records the kernel-assigned addresses and turns the batch into an
// outstanding request.
func (m *Manager) commit(batchObj *bo, eb *kernel.Execbuffer) {
	b := &m.batch
	rq := b.rq
	for i, idx := range b.exec {
		o := m.objs[idx]
		o.presumed = eb.Objects[i].Offset
		o.domain = DomainGPU
		o.dirty = false
		o.exec = -1
		o.prev = nil
	}
	batchObj.presumed = eb.Batch().Offset
	batchObj.domain = DomainGPU
	m.attach(rq, batchObj)

	// The batch's reference moves to the request and is dropped on
	// retirement.
	rq.batch = batchObj.ref()
	rq.submitted = true
	m.requests[rq.ring] = append(m.requests[rq.ring], rq)
	m.stats.Submits++

	Logger().Debug("bufmgr: submitted batch",
		"request", rq.id, "ring", rq.ring, "words", b.nbatch,
		"relocs", len(b.relocs), "objects", len(eb.Objects))
}
