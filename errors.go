// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package bufmgr

import "errors"

// Manager errors.
var (
	// ErrInvalidBO is returned for a zero, stale or released buffer object.
	ErrInvalidBO = errors.New("bufmgr: invalid buffer object")

	// ErrInvalidSize is returned for a non-positive size or an out of range
	// access.
	ErrInvalidSize = errors.New("bufmgr: invalid size")

	// ErrTooLarge is returned when a request exceeds the largest object the
	// device and system memory allow.
	ErrTooLarge = errors.New("bufmgr: object too large")

	// ErrNoMemory is returned when no cached object fits and the kernel
	// cannot allocate a new one.
	ErrNoMemory = errors.New("bufmgr: out of memory")

	// ErrNotMappable is returned when an object cannot be mapped.
	ErrNotMappable = errors.New("bufmgr: object not mappable")

	// ErrProxy is returned for operations that proxies do not support.
	ErrProxy = errors.New("bufmgr: operation not valid on a proxy")

	// ErrBatchFull is returned when an emission skipped the capacity
	// pre-flight check. Nothing is written.
	ErrBatchFull = errors.New("bufmgr: batch capacity exceeded")

	// ErrWedged is returned from Submit once the device has hung. The
	// condition is permanent for the life of the Manager.
	ErrWedged = errors.New("bufmgr: device wedged")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bufmgr: manager closed")

	// ErrNoRedirect is returned when a surface already fits the hardware
	// limits and needs no redirect.
	ErrNoRedirect = errors.New("bufmgr: surface needs no redirect")
)
