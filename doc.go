// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package bufmgr manages GPU buffer objects and command submission on the
// host side of a graphics driver.
//
// # Overview
//
// A [Manager] sits between client command encoders and the kernel service
// that owns device memory ([kernel.Kernel]). It allocates, caches, tiles
// and retires buffer objects, and assembles command batches with their
// relocation tables before handing them to the kernel.
//
//	k := fake.New(fake.DefaultParams())
//	m, err := bufmgr.New(k, bufmgr.Config{})
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	vb, _ := m.Acquire(64*1024, bufmgr.TilingNone, 0)
//	if m.CheckSpace(4, 1, 1) && m.CheckBOs(vb) {
//	    m.Emit(cmdLoad)
//	    m.EmitReloc(vb, bufmgr.AccessRead, 0)
//	}
//	m.Release(vb)
//	m.Submit()
//	m.Retire()
//
// # Objects
//
// Buffer objects are addressed by [BO] handles carrying a generation, so a
// stale handle is reported as [ErrInvalidBO] instead of aliasing a new
// object. Objects are reference counted. A proxy ([Manager.Proxy]) aliases
// a range of another object and keeps it alive.
//
// # Caching
//
// Released objects are not freed. An object still used by the device waits
// on the active tier; an idle one is marked purgeable and moves to the
// inactive tier of its power-of-two size class. Acquire searches the
// persistent-mapping caches, the active tier and the inactive tier before
// asking the kernel for memory, retiling a near miss when allowed.
// [Manager.Expire] frees objects that stayed idle too long.
//
// # Batches and requests
//
// Commands go into the open batch. Clients check capacity with
// [Manager.CheckSpace] and [Manager.CheckBOs] before emitting a command, so
// a command is never split across submissions. [Manager.Submit] hands the
// batch to the kernel and turns it into a request that owns every object
// it references. [Manager.Retire] polls the kernel and returns completed
// objects to the cache.
//
// # Device hang
//
// A hang reported during submission or throttling wedges the manager for
// good: outstanding requests are completed locally and Submit fails with
// [ErrWedged]. Allocation keeps working.
//
// # Concurrency
//
// A Manager has a single owner. It has no internal locking and never starts
// goroutines.
//
// # Logging
//
// bufmgr logs through [log/slog] and is silent by default. See [SetLogger].
package bufmgr
