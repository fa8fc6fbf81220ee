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

// Package httprpc turns HTTP POST bodies into dispatcher input and
// handler output into HTTP responses, honoring client disconnects.
package httprpc

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/flowrpc/flowrpc/config"
	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/jsonrpc"
	"github.com/flowrpc/flowrpc/sched"
)

const contentType = "application/json; charset=utf-8"

// Transport serves JSON-RPC requests on a single POST path.
type Transport struct {
	Path string

	root *sched.Scheduler
	g    *gate.Gate
	disp *dispatch.Dispatcher
	log  logr.Logger

	limiter *rate.Limiter // optional, nil = unlimited

	stopped uint32 // atomic, 1 while not admitting requests

	sync.Mutex
	srv *http.Server
}

type Options struct {
	Path      string        // defaults to /json_rpc
	Gate      *gate.Gate    // optional concurrency cap
	RateLimit rate.Limit    // optional request rate cap, 0 = off
	RateBurst int
}

func New(reg *dispatch.Registry, log logr.Logger, opts Options) *Transport {
	if opts.Path == "" {
		opts.Path = "/json_rpc"
	}
	tr := &Transport{
		Path: opts.Path,
		root: sched.New(nil),
		g:    opts.Gate,
		log:  log,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		tr.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	tr.disp = &dispatch.Dispatcher{
		Registry:       reg,
		Sched:          tr.root,
		Gate:           opts.Gate,
		Log:            log,
		DefaultLimited: true, // every HTTP request is gated unless a handler opts out
	}
	return tr
}

// Scheduler exposes the transport root scheduler, mostly so handlers
// can be registered with it as an explicit parent.
func (tr *Transport) Scheduler() *sched.Scheduler { return tr.root }

// ServeHTTP stacks the checks the dispatch pipeline relies on: stopped,
// the optional rate limiter, gate availability, then dispatch itself.
func (tr *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if atomic.LoadUint32(&tr.stopped) != 0 { // checkIfStopped
		http.Error(w, "service stopping", http.StatusServiceUnavailable)
		return
	}
	if tr.limiter != nil && !tr.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusServiceUnavailable)
		return
	}
	if tr.g != nil && tr.g.Available() == 0 { // checkIfAvailable, do not even queue
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	tr.dispatchHTTP(w, r)
}

type replyWriter struct {
	w      http.ResponseWriter
	status int
	wrote  bool
}

func (rw *replyWriter) apply(status int, header map[string]string) {
	for k, v := range header {
		rw.w.Header().Set(k, v)
	}
	if status != 0 {
		rw.status = status
	}
}

func (rw *replyWriter) send(frame []byte) error {
	if rw.wrote {
		return nil
	}
	rw.wrote = true
	rw.w.Header().Set("Content-Type", contentType)
	rw.w.WriteHeader(rw.status)
	_, err := rw.w.Write(frame)
	return err
}

func (tr *Transport) dispatchHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	rw := &replyWriter{w: w, status: http.StatusOK}
	if err != nil {
		frame, _ := jsonrpc.FormatError(nil, &jsonrpc.Error{Code: jsonrpc.CodeParse, Message: err.Error()})
		rw.send(frame)
		return
	}
	m, perr := jsonrpc.Parse(body)
	if perr != nil {
		frame, _ := jsonrpc.FormatError(nil, perr)
		rw.send(frame)
		return
	}

	tr.disp.Dispatch(m, dispatch.Options{
		Send:       rw.send,
		OnHTTP:     rw.apply,
		Disconnect: r.Context().Done(),
	})
	if !rw.wrote { // notify, suppressed reply or abandoned client
		w.WriteHeader(rw.status)
	}
}

// Start admits requests and, when addr is non-empty, begins listening.
func (tr *Transport) Start(addr string) error {
	atomic.StoreUint32(&tr.stopped, 0)
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(tr.Path, tr)
	tr.Lock()
	tr.srv = &http.Server{Addr: addr, Handler: mux}
	srv := tr.srv
	tr.Unlock()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			tr.log.Error(err, "http server failed")
		}
	}()
	tr.log.Info("HTTP JSON-RPC server starting", "address", addr, "path", tr.Path)
	return nil
}

// Stop rejects new requests with 503 while in-flight ones finish.
func (tr *Transport) Stop() {
	atomic.StoreUint32(&tr.stopped, 1)
}

// Abort cancels every in-flight request in this transport's subtree.
func (tr *Transport) Abort(reason error) {
	tr.root.Abort(reason)
}

// WaitDrain resolves once both the root scheduler and the gate are
// drained.
func (tr *Transport) WaitDrain(ctx context.Context) error {
	if err := tr.root.WaitDrain(ctx); err != nil {
		return err
	}
	if tr.g != nil {
		return tr.g.WaitDrain(ctx)
	}
	return nil
}

// Shutdown stops the transport, waits out the grace period for
// in-flight work and then forcibly terminates lingering sockets.
func (tr *Transport) Shutdown(grace time.Duration) {
	if grace <= 0 {
		grace = time.Duration(config.DEFAULT_DRAIN_GRACE) * time.Millisecond
	}
	tr.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := tr.WaitDrain(ctx); err != nil {
		tr.log.Info("drain deadline exceeded, terminating lingering requests")
		tr.Abort(dispatch.ErrDisconnected)
	}
	tr.Lock()
	srv := tr.srv
	tr.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close() // force-close whatever is left
		}
	}
	tr.log.Info("HTTP JSON-RPC server shutdown")
}
