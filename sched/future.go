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
import "time"

// Future is a one-shot container for the outcome of an asynchronous
// operation. A task suspends on a future via Task.Run or Task.Race, the
// producer settles it exactly once via Resolve or Reject.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value interface{}
	err   error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) Resolve(v interface{}) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *Future) Reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Outcome must only be called after Done is closed.
func (f *Future) Outcome() (interface{}, error) {
	return f.value, f.err
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Go runs fn on its own goroutine and settles the returned future with
// its outcome.
func Go(fn func() (interface{}, error)) *Future {
	f := NewFuture()
	go func() {
		if v, err := fn(); err != nil {
			f.Reject(err)
		} else {
			f.Resolve(v)
		}
	}()
	return f
}

// Timer returns a future resolving after d together with a cancel
// function. Tasks racing a timer must cancel it in their unwind branch,
// otherwise the underlying timer keeps running until it fires.
func Timer(d time.Duration) (*Future, func()) {
	f := NewFuture()
	t := time.AfterFunc(d, func() { f.Resolve(nil) })
	return f, func() { t.Stop() }
}
