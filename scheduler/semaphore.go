/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"container/list"
	"sync"
)

// fifoSemaphore is a counting semaphore that admits waiters in strict FIFO
// order. A bare buffered channel cannot serve here: when several goroutines
// block on a send, the runtime does not define which one proceeds first.
type fifoSemaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  list.List // of chan struct{}
}

func newFIFOSemaphore(capacity int) *fifoSemaphore {
	return &fifoSemaphore{capacity: capacity}
}

// acquire blocks until a slot is free and all earlier waiters got theirs.
func (s *fifoSemaphore) acquire() {
	s.mu.Lock()
	if s.inUse < s.capacity && s.waiters.Len() == 0 {
		s.inUse++
		s.mu.Unlock()
		return
	}
	grant := make(chan struct{})
	s.waiters.PushBack(grant)
	s.mu.Unlock()
	<-grant
}

// release frees a slot, handing it directly to the oldest waiter if any.
func (s *fifoSemaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.waiters.Front(); e != nil {
		s.waiters.Remove(e)
		close(e.Value.(chan struct{}))
		return
	}
	s.inUse--
}
