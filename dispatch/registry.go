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

package dispatch

import "sync"

import "github.com/go-logr/logr"

import "github.com/flowrpc/flowrpc/sched"

// Call carries everything a handler may consult about the inbound
// request. Handlers suspend through Task only; the parent scheduler and
// the correlator are off limits to them.
type Call struct {
	Task   *sched.Task
	ID     interface{} // nil on notifies
	Method string
	Params interface{}
	Sender string // socket id of the sending peer, "" over HTTP
	Logger logr.Logger
}

type HandlerFunc func(c *Call) (interface{}, error)

// Handler is the descriptor form of a registration. Parent overrides
// the transport scheduler the per-request child is rooted at; Limited
// overrides the transport's default gate policy.
type Handler struct {
	Handle  HandlerFunc
	Parent  *sched.Scheduler
	Limited *bool
}

// Registry maps method names to handlers. It is effectively immutable
// at steady state; registration races are the caller's problem.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Handler)}
}

// Register binds a bare handler function to a method name, replacing
// any previous binding.
func (r *Registry) Register(method string, fn HandlerFunc) {
	r.RegisterHandler(method, Handler{Handle: fn})
}

func (r *Registry) RegisterHandler(method string, h Handler) {
	r.mu.Lock()
	r.methods[method] = h
	r.mu.Unlock()
}

// Unregister removes a binding, reporting false when the method was not
// present.
func (r *Registry) Unregister(method string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[method]; !ok {
		return false
	}
	delete(r.methods, method)
	return true
}

func (r *Registry) Lookup(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.methods[method]
	return h, ok
}

func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.methods))
	for m := range r.methods {
		out = append(out, m)
	}
	return out
}
