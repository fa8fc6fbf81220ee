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
import "context"

// Counter is a non-negative counter with an await-zero primitive. It is
// the building block for every drain path in this module.
type Counter struct {
	mu      sync.Mutex
	n       int64
	waiters []chan struct{}
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Add(k int64) {
	c.mu.Lock()
	c.n += k
	c.mu.Unlock()
}

// Sub decrements by k, saturating at 0. Waiters registered while the
// counter was positive are released the moment it reaches 0.
func (c *Counter) Sub(k int64) {
	c.mu.Lock()
	c.n -= k
	if c.n < 0 {
		c.n = 0
	}
	if c.n == 0 && len(c.waiters) > 0 {
		for _, w := range c.waiters {
			close(w)
		}
		c.waiters = nil
	}
	c.mu.Unlock()
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// WaitZero blocks until the counter reaches 0 or ctx is done.
func (c *Counter) WaitZero(ctx context.Context) error {
	c.mu.Lock()
	if c.n == 0 {
		c.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
