// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tier

import "iter"

// node is a link in a List. Nodes are owned by the list; callers address
// entries by key only.
type node[K comparable] struct {
	key  K
	prev *node[K]
	next *node[K]
}

// List is an ordered set of keys with O(1) insertion at either end and
// O(1) removal by key.
//
// The front is the most recently inserted entry for LRU use; tiers that
// need FIFO order push to the back and pop from the front.
//
// List is not safe for concurrent use.
type List[K comparable] struct {
	head  *node[K]
	tail  *node[K]
	index map[K]*node[K]
}

// New creates an empty list.
func New[K comparable]() *List[K] {
	return &List[K]{index: make(map[K]*node[K])}
}

// Len returns the number of keys in the list.
func (l *List[K]) Len() int {
	return len(l.index)
}

// Contains reports whether key is in the list.
func (l *List[K]) Contains(key K) bool {
	_, ok := l.index[key]
	return ok
}

// PushFront inserts key at the front. A key already present is moved.
func (l *List[K]) PushFront(key K) {
	n := l.detach(key)
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

// PushBack inserts key at the back. A key already present is moved.
func (l *List[K]) PushBack(key K) {
	n := l.detach(key)
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	}
	l.tail = n
	if l.head == nil {
		l.head = n
	}
}

// Remove deletes key. It reports whether the key was present.
func (l *List[K]) Remove(key K) bool {
	n, ok := l.index[key]
	if !ok {
		return false
	}
	l.unlink(n)
	delete(l.index, key)
	return true
}

// Front returns the first key.
func (l *List[K]) Front() (K, bool) {
	if l.head == nil {
		var zero K
		return zero, false
	}
	return l.head.key, true
}

// Back returns the last key.
func (l *List[K]) Back() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	return l.tail.key, true
}

// PopFront removes and returns the first key.
func (l *List[K]) PopFront() (K, bool) {
	key, ok := l.Front()
	if ok {
		l.Remove(key)
	}
	return key, ok
}

// PopBack removes and returns the last key.
func (l *List[K]) PopBack() (K, bool) {
	key, ok := l.Back()
	if ok {
		l.Remove(key)
	}
	return key, ok
}

// All yields keys from front to back. The yielded key may be removed
// during iteration; other mutations are undefined.
func (l *List[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for n := l.head; n != nil; {
			next := n.next
			if !yield(n.key) {
				return
			}
			n = next
		}
	}
}

// Backward yields keys from back to front with the same removal rule as All.
func (l *List[K]) Backward() iter.Seq[K] {
	return func(yield func(K) bool) {
		for n := l.tail; n != nil; {
			prev := n.prev
			if !yield(n.key) {
				return
			}
			n = prev
		}
	}
}

// Clear removes every key.
func (l *List[K]) Clear() {
	l.head = nil
	l.tail = nil
	clear(l.index)
}

// detach returns the node for key, unlinked and registered in the index.
func (l *List[K]) detach(key K) *node[K] {
	if n, ok := l.index[key]; ok {
		l.unlink(n)
		return n
	}
	n := &node[K]{key: key}
	l.index[key] = n
	return n
}

// unlink removes a node from the chain and clears its links.
func (l *List[K]) unlink(n *node[K]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}
