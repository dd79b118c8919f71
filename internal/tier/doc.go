// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tier provides the containers behind the buffer manager's cache
// tiers: an ordered key list with O(1) removal and the logarithmic size
// classes used to bucket objects.
//
// Objects are addressed by arena index, never by pointer, so an object can
// sit in a cache tier, a request and a mapping LRU at once without
// intrusive links.
//
//	l := tier.New[uint32]()
//	l.PushBack(7)
//	l.Remove(7)
package tier
