/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import "time"

const noSlot = -1

type slotEntry[K comparable, V any] struct {
	key       K
	value     V
	writtenAt time.Time
	prev      int
	next      int
}

// recencyList orders entries from most- to least-recently-touched.
// Entries live in an arena of slots addressed by integer handles and are
// linked through intrusive prev/next indices. Handles stay valid until the
// slot is removed, and freed slots are reused through a free list, so the
// arena never grows past the high-water mark of live entries.
type recencyList[K comparable, V any] struct {
	arena []slotEntry[K, V]
	free  []int
	head  int
	tail  int
}

func newRecencyList[K comparable, V any](capacityHint int) recencyList[K, V] {
	return recencyList[K, V]{
		arena: make([]slotEntry[K, V], 0, capacityHint),
		head:  noSlot,
		tail:  noSlot,
	}
}

// entry returns the slot under the handle. The pointer is valid until the
// next pushFront call.
func (l *recencyList[K, V]) entry(h int) *slotEntry[K, V] {
	return &l.arena[h]
}

// back returns the handle of the least-recently-touched slot, noSlot if empty.
func (l *recencyList[K, V]) back() int {
	return l.tail
}

func (l *recencyList[K, V]) pushFront(key K, value V, writtenAt time.Time) int {
	h := l.alloc()
	e := &l.arena[h]
	e.key = key
	e.value = value
	e.writtenAt = writtenAt
	e.prev = noSlot
	e.next = l.head
	if l.head != noSlot {
		l.arena[l.head].prev = h
	}
	l.head = h
	if l.tail == noSlot {
		l.tail = h
	}
	return h
}

func (l *recencyList[K, V]) remove(h int) {
	e := &l.arena[h]
	if e.prev != noSlot {
		l.arena[e.prev].next = e.next
	} else {
		l.head = e.next
	}
	if e.next != noSlot {
		l.arena[e.next].prev = e.prev
	} else {
		l.tail = e.prev
	}
	var zero slotEntry[K, V]
	*e = zero // drop key/value references so they can be collected
	l.free = append(l.free, h)
}

func (l *recencyList[K, V]) moveToFront(h int) {
	if l.head == h {
		return
	}
	// h is not the head, so it always has a predecessor.
	e := &l.arena[h]
	l.arena[e.prev].next = e.next
	if e.next != noSlot {
		l.arena[e.next].prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev = noSlot
	e.next = l.head
	l.arena[l.head].prev = h
	l.head = h
}

func (l *recencyList[K, V]) reset() {
	l.arena = l.arena[:0]
	l.free = l.free[:0]
	l.head = noSlot
	l.tail = noSlot
}

func (l *recencyList[K, V]) alloc() int {
	if n := len(l.free); n > 0 {
		h := l.free[n-1]
		l.free = l.free[:n-1]
		return h
	}
	l.arena = append(l.arena, slotEntry[K, V]{})
	return len(l.arena) - 1
}
