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

// Package sched implements the cooperative concurrency core: a
// hierarchical abort-propagating scheduler, resumable tasks with
// run/race suspension points, counters and single-consumer channels.
package sched

import "sync"
import "errors"
import "context"

// destroyed nodes must not start new tasks
var ErrSchedulerDestroyed = errors.New("scheduler destroyed")

// Scheduler is a node in an abort-propagating forest. Aborting a node
// cancels every in-flight race wait in its subtree before Abort
// returns; descendants observe the abort reason by reading through
// their ancestor chain.
//
// All nodes of one tree share a single mutex, so every scheduler
// operation within a tree is serial, matching the cooperative
// single-context model the tasks assume.
type Scheduler struct {
	mu       *sync.Mutex
	parent   *Scheduler
	children map[*Scheduler]struct{}
	reason   error // nil = live
	detached bool
	tasks    *Counter
	waits    map[*raceWait]struct{}
}

type raceWait struct {
	ch     chan struct{}
	reason error // set before ch is closed
}

// New creates a scheduler. With a non-nil parent the node joins the
// parent's abort broadcast and shares its tree lock.
func New(parent *Scheduler) *Scheduler {
	s := &Scheduler{
		children: make(map[*Scheduler]struct{}),
		tasks:    NewCounter(),
		waits:    make(map[*raceWait]struct{}),
	}
	if parent == nil {
		s.mu = &sync.Mutex{}
		return s
	}
	s.mu = parent.mu
	s.parent = parent
	s.mu.Lock()
	parent.children[s] = struct{}{}
	s.mu.Unlock()
	return s
}

// Abort sets the local abort reason and synchronously cancels every
// race wait in this subtree. A nil reason is a programming error.
func (s *Scheduler) Abort(reason error) {
	if reason == nil {
		panic("sched: Abort requires a non-nil reason")
	}
	s.mu.Lock()
	s.reason = reason
	s.cancelSubtreeLocked(reason)
	s.mu.Unlock()
}

func (s *Scheduler) cancelSubtreeLocked(reason error) {
	for w := range s.waits {
		w.reason = reason
		close(w.ch)
	}
	s.waits = make(map[*raceWait]struct{})
	for c := range s.children {
		c.cancelSubtreeLocked(reason)
	}
}

// Resume clears the local reason. Ancestor reasons are untouched, so
// the node may still report Aborted afterwards.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.reason = nil
	s.mu.Unlock()
}

// Destroy detaches the node from its parent's abort broadcast. Safe to
// call repeatedly. Destroyed nodes refuse new tasks until Recover.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if !s.detached {
		s.detached = true
		if s.parent != nil {
			delete(s.parent.children, s)
		}
	}
	s.mu.Unlock()
}

// Recover reattaches a destroyed node to its parent. Idempotent.
func (s *Scheduler) Recover() {
	s.mu.Lock()
	if s.detached {
		s.detached = false
		if s.parent != nil {
			s.parent.children[s] = struct{}{}
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) reasonLocked() error {
	for n := s; n != nil; n = n.parent {
		if n.reason != nil {
			return n.reason
		}
		if n.detached {
			return nil
		}
	}
	return nil
}

// Reason reports the effective abort reason, preferring the local value
// and otherwise reading through to the nearest attached ancestor.
func (s *Scheduler) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasonLocked()
}

func (s *Scheduler) Aborted() bool {
	return s.Reason() != nil
}

func (s *Scheduler) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Tasks reports the number of live tasks in this subtree.
func (s *Scheduler) Tasks() int64 {
	return s.tasks.Value()
}

// WaitDrain blocks until the subtree's live-task counter reaches zero.
func (s *Scheduler) WaitDrain(ctx context.Context) error {
	return s.tasks.WaitZero(ctx)
}

// TaskFunc is the body of a cooperative task. It runs to completion on
// the calling goroutine and suspends only through the Task handle.
type TaskFunc func(t *Task) (interface{}, error)

// Result is the tri-state outcome fed back by ExecuteNoExcept.
type Result struct {
	OK    bool
	Value interface{}
	Err   error
}

// Execute runs a task to completion, returning its value or error. The
// live-task counter of this node and of every attached ancestor is held
// for the duration.
func (s *Scheduler) Execute(fn TaskFunc) (interface{}, error) {
	counters, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end(counters)
	return fn(&Task{s: s})
}

// ExecuteNoExcept is Execute with every failure mode, panics included,
// surfaced as a Result instead of an error return.
func (s *Scheduler) ExecuteNoExcept(fn TaskFunc) Result {
	v, err := s.Execute(func(t *Task) (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = e
				} else {
					err = errors.New(toString(r))
				}
			}
		}()
		return fn(t)
	})
	if err != nil {
		return Result{OK: false, Err: err}
	}
	return Result{OK: true, Value: v}
}

func (s *Scheduler) begin() ([]*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return nil, ErrSchedulerDestroyed
	}
	counters := []*Counter{s.tasks}
	for n := s; !n.detached && n.parent != nil; {
		n = n.parent
		counters = append(counters, n.tasks)
	}
	for _, c := range counters {
		c.Add(1)
	}
	return counters, nil
}

func end(counters []*Counter) {
	for _, c := range counters {
		c.Sub(1)
	}
}

// addWait registers a race wait, or reports the abort reason if the
// node is already aborted at this suspension point.
func (s *Scheduler) addWait() (*raceWait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.reasonLocked(); r != nil {
		return nil, r
	}
	w := &raceWait{ch: make(chan struct{})}
	s.waits[w] = struct{}{}
	return w, nil
}

func (s *Scheduler) removeWait(w *raceWait) {
	s.mu.Lock()
	delete(s.waits, w)
	s.mu.Unlock()
}
