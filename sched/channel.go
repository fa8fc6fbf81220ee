// Copyright 2021-2022 Flowrpc Project. All rights reserved.
// Use of this source code in any form is governed by RESEARCH license.
// license can be found in the LICENSE file.
//
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND ANY
// EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL
// THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO,
// PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT,
// STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF
// THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package sched

import "sync"
import "errors"

var ErrChannelAborted = errors.New("channel aborted")

// at most one consumer may block in Next at a time
var ErrChannelBusy = errors.New("channel already has a waiter")

// Channel is an ordered single-consumer queue. With Max set, pushing
// into a full channel drops the oldest element (OnDrop is told about
// it) instead of rejecting the new one.
type Channel[T comparable] struct {
	Max    int // 0 = unbounded
	OnDrop func(T)

	mu      sync.Mutex
	items   []T
	aborted bool
	waiter  chan struct{}
}

func NewChannel[T comparable](max int, onDrop func(T)) *Channel[T] {
	return &Channel[T]{Max: max, OnDrop: onDrop}
}

// Push queues v and reports whether it was accepted. On an aborted
// channel the value is dropped immediately.
func (c *Channel[T]) Push(v T) bool {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return false
	}
	if c.Max > 0 && len(c.items) >= c.Max {
		oldest := c.items[0]
		c.items = c.items[1:]
		if c.OnDrop != nil {
			c.OnDrop(oldest)
		}
	}
	c.items = append(c.items, v)
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()
	if w != nil {
		close(w)
	}
	return true
}

// Next takes the oldest queued value, waiting if the channel is empty.
func (c *Channel[T]) Next() (T, error) {
	var zero T
	for {
		c.mu.Lock()
		if c.aborted {
			c.mu.Unlock()
			return zero, ErrChannelAborted
		}
		if len(c.items) > 0 {
			v := c.items[0]
			c.items = c.items[1:]
			c.mu.Unlock()
			return v, nil
		}
		if c.waiter != nil {
			c.mu.Unlock()
			return zero, ErrChannelBusy
		}
		w := make(chan struct{})
		c.waiter = w
		c.mu.Unlock()
		<-w
	}
}

// Cancel removes v if it is still queued and reports whether it was
// found.
func (c *Channel[T]) Cancel(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i] == v {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Abort drops everything queued and fails the pending consumer, if any,
// with ErrChannelAborted. Further pushes are dropped until Reset.
func (c *Channel[T]) Abort() {
	c.mu.Lock()
	c.aborted = true
	c.items = nil
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()
	if w != nil {
		close(w)
	}
}

// Reset clears the queue and lifts a previous Abort.
func (c *Channel[T]) Reset() {
	c.mu.Lock()
	c.aborted = false
	c.items = nil
	c.mu.Unlock()
}

// Clear drops all queued values without touching the aborted state.
func (c *Channel[T]) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
