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

import "fmt"
import "time"

// Task is the suspension handle passed to a running TaskFunc. Every
// method is a suspension point: the task observes an abort of its
// scheduler no later than its next call into the handle.
type Task struct {
	s *Scheduler
}

// Scheduler exposes the node this task runs under, so a task may create
// child schedulers of its own.
func (t *Task) Scheduler() *Scheduler {
	return t.s
}

// Run awaits the future fully. An abort arriving while the future is
// pending is observed only once it settles, at which point the abort
// reason wins over the future's value.
func (t *Task) Run(f *Future) (interface{}, error) {
	<-f.Done()
	v, err := f.Outcome()
	if err != nil {
		return nil, err
	}
	if r := t.s.Reason(); r != nil {
		return nil, r
	}
	return v, nil
}

// Race suspends on the future OR the scheduler abort, whichever comes
// first. On abort the future is abandoned while still pending; whoever
// owns its underlying resource (a timer, a socket read) must cancel it
// in the unwind branch.
func (t *Task) Race(f *Future) (interface{}, error) {
	w, aborted := t.s.addWait()
	if aborted != nil {
		// aborted at the suspension point, bypass the i/o entirely
		return nil, aborted
	}
	select {
	case <-f.Done():
		t.s.removeWait(w)
		v, err := f.Outcome()
		if err != nil {
			return nil, err
		}
		return v, nil
	case <-w.ch:
		return nil, w.reason
	}
}

// Check is an explicit checkpoint between long synchronous stretches.
// It returns the abort reason if the scheduler is aborted, else nil.
func (t *Task) Check() error {
	return t.s.Reason()
}

// Sleep suspends for d under a race wait, so an abort cuts the sleep
// short. The timer is stopped on the unwind path.
func (t *Task) Sleep(d time.Duration) error {
	f, cancel := Timer(d)
	if _, err := t.Race(f); err != nil {
		cancel()
		return err
	}
	return nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
