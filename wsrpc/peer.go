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

// Package wsrpc implements bidirectional JSON-RPC over a
// message-oriented socket. Client and server sides share the same peer
// state machine around (re)connect and disconnect.
package wsrpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/glue/wsio"
	"github.com/flowrpc/flowrpc/jsonrpc"
	"github.com/flowrpc/flowrpc/metrics"
	"github.com/flowrpc/flowrpc/sched"
)

// abort reason set on a peer's scheduler when its socket drops
var ErrDisconnect = errors.New("disconnect")

// a second connection arrived carrying the socket id of a live peer
var ErrRepeatSocketID = errors.New("repeat socket id")

// Peer binds one socket to a scheduler, an optional gate, the handler
// registry and a per-peer correlator. The same object survives socket
// loss: attaching a new socket resumes it.
type Peer struct {
	ID string

	s    *sched.Scheduler
	g    *gate.Gate
	corr *jsonrpc.Correlator
	disp *dispatch.Dispatcher
	log  logr.Logger

	// emitted exactly once per transition
	OnConnect    func(*Peer)
	OnDisconnect func(*Peer)

	mu        sync.Mutex
	conn      wsio.Conn
	connected bool
}

func newPeer(id string, parent *sched.Scheduler, g *gate.Gate, reg *dispatch.Registry, log logr.Logger) *Peer {
	p := &Peer{
		ID:   id,
		s:    sched.New(parent),
		g:    g,
		corr: jsonrpc.NewCorrelator(log),
		log:  log,
	}
	p.disp = &dispatch.Dispatcher{
		Registry:   reg,
		Sched:      p.s,
		Gate:       g,
		Correlator: p.corr,
		Log:        log,
		// bare handlers are not gated on duplex peers, saturation on
		// gated ones answers with the Server code
		DefaultLimited: false,
		BusyReply:      true,
	}
	return p
}

// Scheduler exposes the peer's scheduler node.
func (p *Peer) Scheduler() *sched.Scheduler { return p.s }

// Connected reports whether a socket is currently attached.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// run attaches conn and serves it until the socket drops. A peer that
// was aborted with "disconnect" is resumed first, so a reconnecting
// client keeps issuing requests through the same object.
func (p *Peer) run(conn wsio.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	if errors.Is(p.s.Reason(), ErrDisconnect) {
		p.s.Resume()
	}
	p.s.Recover()
	metrics.Peer_Connects.Inc()
	p.log.V(1).Info("peer connected")
	if p.OnConnect != nil {
		p.OnConnect(p)
	}
	p.readLoop(conn)
}

// attach is run on its own goroutine, for the server side where the
// upgrade handler must return.
func (p *Peer) attach(conn wsio.Conn) {
	go p.run(conn)
}

func (p *Peer) readLoop(conn wsio.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			p.handleDisconnect(err)
			return
		}
		m, perr := jsonrpc.Parse(frame)
		if perr != nil {
			p.log.V(1).Info("dropping malformed frame", "err", perr)
			continue
		}
		// frames are dispatched in arrival order; handlers interleave
		// at their own suspension points
		go p.disp.Dispatch(m, dispatch.Options{Sender: p.ID, Send: p.send})
	}
}

func (p *Peer) handleDisconnect(cause error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	conn.Close()
	if !p.s.Aborted() {
		p.s.Abort(ErrDisconnect)
	}
	p.s.Destroy()
	metrics.Peer_Disconnects.Inc()
	p.log.V(1).Info("peer disconnected", "cause", cause)
	if p.OnDisconnect != nil {
		p.OnDisconnect(p)
	}
	// outstanding correlator entries are left to their own timeouts;
	// callers wanting a hard cut use Abort
}

func (p *Peer) send(frame []byte) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrDisconnect
	}
	return conn.WriteFrame(frame)
}

// Call issues a request to the remote side and awaits its response
// under the peer scheduler, so a disconnect fails it with "disconnect"
// without waiting out the timeout.
func (p *Peer) Call(method string, params interface{}, timeout time.Duration) (interface{}, error) {
	id, frame, fut, err := p.corr.CreateRequest(method, params, timeout)
	if err != nil {
		return nil, err
	}
	v, err := p.s.Execute(func(t *sched.Task) (interface{}, error) {
		if err := p.send(frame); err != nil {
			p.corr.Fail(id, err)
			return nil, err
		}
		return t.Race(fut)
	})
	if errors.Is(err, sched.ErrSchedulerDestroyed) {
		// socket is down and the peer detached, do not strand the entry
		p.corr.Fail(id, ErrDisconnect)
		return nil, ErrDisconnect
	}
	return v, err
}

// Notify sends a fire-and-forget notification.
func (p *Peer) Notify(method string, params interface{}) error {
	frame, err := jsonrpc.FormatNotify(method, params)
	if err != nil {
		return err
	}
	return p.send(frame)
}

// Close commands the socket to disconnect without reconnection intent.
func (p *Peer) Close() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		conn.Close() // read loop observes the close and runs the disconnect path
	}
}

// Abort aborts both the scheduler and the correlator.
func (p *Peer) Abort(reason error) {
	if !p.s.Aborted() {
		p.s.Abort(reason)
	}
	p.corr.AbortAll(reason)
}

// WaitDrain awaits the scheduler, the correlator and the gate.
func (p *Peer) WaitDrain(ctx context.Context) error {
	if err := p.s.WaitDrain(ctx); err != nil {
		return err
	}
	if err := p.corr.WaitDrain(ctx); err != nil {
		return err
	}
	if p.g != nil {
		return p.g.WaitDrain(ctx)
	}
	return nil
}

// Pending reports outstanding requests on the peer correlator.
func (p *Peer) Pending() int {
	return p.corr.Pending()
}
