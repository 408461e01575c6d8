// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bosh

import (
	"sync"
)

// reorder releases responses in ascending rid order.
// Responses that arrive before the ones preceding them are held until the gap
// is filled.
type reorder[T any] struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]T
	deliver func(rid uint64, v T)
}

func newReorder[T any](next uint64, deliver func(rid uint64, v T)) *reorder[T] {
	return &reorder[T]{
		next:    next,
		pending: make(map[uint64]T),
		deliver: deliver,
	}
}

// push records the response for rid and delivers every response that is now
// contiguous with the last one delivered.
// Responses for rids that were already delivered are dropped.
func (r *reorder[T]) push(rid uint64, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rid < r.next {
		return
	}
	r.pending[rid] = v
	for {
		v, ok := r.pending[r.next]
		if !ok {
			return
		}
		delete(r.pending, r.next)
		r.deliver(r.next, v)
		r.next++
	}
}

// buffered returns the number of responses waiting for an earlier rid.
func (r *reorder[T]) buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
