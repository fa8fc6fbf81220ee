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

// Package bus carries addressed and broadcast JSON-RPC frames between
// named server nodes over an external broadcast medium.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/config"
	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/jsonrpc"
	"github.com/flowrpc/flowrpc/sched"
)

// node names must not collide with the broadcast destination
var ErrReservedName = errors.New("bus: node name \"all\" is reserved")

var ErrNameTaken = errors.New("bus: node name already attached")

// Envelope is the three-tuple the bus medium moves around. Payload is
// one JSON-RPC frame.
type Envelope struct {
	From    string `cbor:"1,keyasint" json:"from"`
	To      string `cbor:"2,keyasint" json:"to"`
	Payload []byte `cbor:"3,keyasint" json:"payload"`
}

// Transport is the external broadcast medium: deliver-to-all on Post,
// deliver-to-me via the attached callback. Mesh is the in-process
// implementation, Cluster the TCP one.
type Transport interface {
	Post(env Envelope) error
	Attach(name string, deliver func(Envelope)) error
	Detach(name string)
}

// Node is one named participant. It ignores any envelope addressed to
// neither "all" nor its own name.
type Node struct {
	Name string

	tr   Transport
	s    *sched.Scheduler
	corr *jsonrpc.Correlator
	disp *dispatch.Dispatcher
	log  logr.Logger
}

func NewNode(name string, tr Transport, reg *dispatch.Registry, log logr.Logger) (*Node, error) {
	if name == config.BUS_BROADCAST_NAME {
		return nil, ErrReservedName
	}
	n := &Node{
		Name: name,
		tr:   tr,
		s:    sched.New(nil),
		corr: jsonrpc.NewCorrelator(log),
		log:  log,
	}
	n.disp = &dispatch.Dispatcher{
		Registry:       reg,
		Sched:          n.s,
		Correlator:     n.corr,
		Log:            log,
		DefaultLimited: false,
		BusyReply:      true,
	}
	if err := tr.Attach(name, n.deliver); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) deliver(env Envelope) {
	if env.To != config.BUS_BROADCAST_NAME && env.To != n.Name {
		return
	}
	m, err := jsonrpc.Parse(env.Payload)
	if err != nil {
		n.log.V(1).Info("dropping malformed bus frame", "from", env.From, "err", err)
		return
	}
	go n.disp.Dispatch(m, dispatch.Options{
		Sender: env.From,
		Send: func(frame []byte) error {
			// responses flow back over the same bus addressed to the requester
			return n.tr.Post(Envelope{From: n.Name, To: env.From, Payload: frame})
		},
	})
}

// Broadcast emits a notify addressed to every node.
func (n *Node) Broadcast(method string, params interface{}) error {
	return n.Notify(config.BUS_BROADCAST_NAME, method, params)
}

// Notify sends a fire-and-forget notification to one node (or "all").
func (n *Node) Notify(to string, method string, params interface{}) error {
	frame, err := jsonrpc.FormatNotify(method, params)
	if err != nil {
		return err
	}
	return n.tr.Post(Envelope{From: n.Name, To: to, Payload: frame})
}

// Request issues an addressed request and awaits the response via the
// node correlator.
func (n *Node) Request(to string, method string, params interface{}, timeout time.Duration) (interface{}, error) {
	id, frame, fut, err := n.corr.CreateRequest(method, params, timeout)
	if err != nil {
		return nil, err
	}
	return n.s.Execute(func(t *sched.Task) (interface{}, error) {
		if err := n.tr.Post(Envelope{From: n.Name, To: to, Payload: frame}); err != nil {
			n.corr.Fail(id, err)
			return nil, err
		}
		return t.Race(fut)
	})
}

// Abort cancels in-flight handlers and outstanding requests.
func (n *Node) Abort(reason error) {
	if !n.s.Aborted() {
		n.s.Abort(reason)
	}
	n.corr.AbortAll(reason)
}

// WaitDrain awaits the node scheduler and correlator.
func (n *Node) WaitDrain(ctx context.Context) error {
	if err := n.s.WaitDrain(ctx); err != nil {
		return err
	}
	return n.corr.WaitDrain(ctx)
}

// Close detaches the node from the medium.
func (n *Node) Close() {
	n.tr.Detach(n.Name)
}
