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

// Package dispatch binds inbound JSON-RPC frames to registered
// handlers running under per-request child schedulers, with optional
// gate admission. One dispatcher implementation serves every
// transport.
package dispatch

import "time"
import "errors"
import "context"

import "github.com/go-logr/logr"

import "github.com/flowrpc/flowrpc/gate"
import "github.com/flowrpc/flowrpc/sched"
import "github.com/flowrpc/flowrpc/jsonrpc"
import "github.com/flowrpc/flowrpc/metrics"

// sentinel reason set by the HTTP transport when the client drops
// mid-request; the dispatcher swallows it instead of replying
var ErrDisconnected = errors.New("disconnected")

type noReply struct{}

// NoReply is the distinguished handler return value meaning "send no
// result frame for this id". A plain nil return still produces a null
// result reply.
var NoReply interface{} = noReply{}

// NotifyResponse is the handler-response envelope that answers the
// sender out-of-band with a notification instead of a result frame.
type NotifyResponse struct {
	Method string
	Params interface{}
}

// HTTPResponse is the handler-response envelope letting a handler set
// the HTTP status and headers; Result then flows through the normal
// result path.
type HTTPResponse struct {
	Status int
	Header map[string]string
	Result interface{}
}

// Options configure one Dispatch invocation.
type Options struct {
	Sender string // peer identity, "" over HTTP

	// Send writes one frame back to the sender.
	Send func(frame []byte) error

	// OnHTTP applies an HTTPResponse envelope; nil on duplex transports.
	OnHTTP func(status int, header map[string]string)

	// Disconnect, when non-nil, is closed once the sender is gone; the
	// per-request child scheduler is then aborted with ErrDisconnected.
	Disconnect <-chan struct{}
}

// Dispatcher holds the per-transport wiring shared by all frames of
// that transport.
type Dispatcher struct {
	Registry   *Registry
	Sched      *sched.Scheduler // transport root scheduler
	Gate       *gate.Gate       // optional
	Correlator *jsonrpc.Correlator
	Log        logr.Logger

	// DefaultLimited is the gate policy for bare function handlers:
	// true on the HTTP transport, false on duplex peers.
	DefaultLimited bool

	// BusyReply makes gate saturation answer id-bearing requests with
	// the Server error code (duplex behavior). The HTTP transport
	// instead rejects before dispatch with 503.
	BusyReply bool
}

// Dispatch routes one decoded frame: responses to the correlator,
// requests and notifies through a handler under a fresh child
// scheduler. It blocks until the frame is fully processed.
func (d *Dispatcher) Dispatch(m *jsonrpc.Message, opts Options) {
	metrics.Dispatch_Total.Inc()
	start := time.Now()
	defer metrics.Dispatch_Duration.UpdateDuration(start)

	if m.Kind == jsonrpc.KindResponse {
		if d.Correlator == nil || !d.Correlator.DeliverResponse(m) {
			d.Log.V(1).Info("dropping unmatched response", "id", m.ID)
		}
		return
	}

	h, ok := d.Registry.Lookup(m.Method)
	if !ok {
		if m.Kind == jsonrpc.KindRequest {
			d.reply(opts, jsonrpcError(m.ID, &jsonrpc.Error{Code: jsonrpc.CodeNotFound, Message: "method not found: " + m.Method}))
		} else {
			d.Log.V(1).Info("dropping notify for unknown method", "method", m.Method)
		}
		return
	}

	parent := d.Sched
	if h.Parent != nil {
		parent = h.Parent
	}
	limited := d.DefaultLimited
	if h.Limited != nil {
		limited = *h.Limited
	}

	var tok *gate.Token
	var ticket *gate.Ticket
	if limited && d.Gate != nil {
		var err error
		tok, ticket, err = d.Gate.Acquire()
		if err != nil { // queue full, never invoke the handler
			metrics.Gate_Rejected.Inc()
			if m.Kind == jsonrpc.KindRequest && d.BusyReply {
				d.reply(opts, jsonrpcError(m.ID, &jsonrpc.Error{Code: jsonrpc.CodeServer, Message: "server busy"}))
			}
			return
		}
	}

	child := sched.New(parent)
	defer child.Destroy()

	finished := make(chan struct{})
	defer close(finished)
	if opts.Disconnect != nil {
		go func() {
			select {
			case <-opts.Disconnect:
				if !child.Aborted() {
					child.Abort(ErrDisconnected)
				}
			case <-finished:
			}
		}()
	}

	res := child.ExecuteNoExcept(func(t *sched.Task) (interface{}, error) {
		if ticket != nil {
			fut := sched.Go(func() (interface{}, error) {
				return ticket.Wait(context.Background())
			})
			v, err := t.Race(fut)
			if err != nil {
				d.Gate.Cancel(ticket, err) // unwind: leave the queue
				go func() {
					// the ticket may have resolved concurrently with the
					// abort; a token delivered anyway must go back
					<-fut.Done()
					if v, werr := fut.Outcome(); werr == nil {
						d.Gate.Release(v.(*gate.Token))
					}
				}()
				return nil, err
			}
			tok = v.(*gate.Token)
		}
		if tok != nil {
			tok.Begin()
			defer func() {
				tok.End()
				d.Gate.Release(tok)
			}()
		}
		return h.Handle(&Call{
			Task:   t,
			ID:     m.ID,
			Method: m.Method,
			Params: m.Params,
			Sender: opts.Sender,
			Logger: d.Log.WithValues("method", m.Method),
		})
	})

	d.finish(m, opts, res)
}

func (d *Dispatcher) finish(m *jsonrpc.Message, opts Options, res sched.Result) {
	if !res.OK {
		metrics.Dispatch_Errors.Inc()
		if errors.Is(res.Err, ErrDisconnected) {
			d.Log.V(2).Info("request abandoned by client", "method", m.Method)
			return
		}
		if m.Kind == jsonrpc.KindRequest {
			d.reply(opts, jsonrpcError(m.ID, res.Err))
		} else {
			d.Log.V(1).Info("notify handler failed", "method", m.Method, "err", res.Err)
		}
		return
	}

	switch v := res.Value.(type) {
	case noReply:
		return
	case NotifyResponse:
		d.sendNotify(opts, v)
		return
	case *NotifyResponse:
		d.sendNotify(opts, *v)
		return
	case *HTTPResponse:
		if opts.OnHTTP != nil {
			opts.OnHTTP(v.Status, v.Header)
		}
		res.Value = v.Result
	case HTTPResponse:
		if opts.OnHTTP != nil {
			opts.OnHTTP(v.Status, v.Header)
		}
		res.Value = v.Result
	}

	if m.Kind != jsonrpc.KindRequest {
		if res.Value != nil {
			metrics.Dispatch_Notify_Dropped.Inc()
			d.Log.Info("handler tried to respond to a notify, discarding", "method", m.Method)
		}
		return
	}
	frame, err := jsonrpc.FormatResult(m.ID, res.Value)
	if err != nil {
		d.reply(opts, jsonrpcError(m.ID, err))
		return
	}
	d.reply(opts, frame)
}

func (d *Dispatcher) sendNotify(opts Options, n NotifyResponse) {
	frame, err := jsonrpc.FormatNotify(n.Method, n.Params)
	if err != nil {
		d.Log.Error(err, "cannot format notify response", "method", n.Method)
		return
	}
	d.reply(opts, frame)
}

func (d *Dispatcher) reply(opts Options, frame []byte) {
	if opts.Send == nil {
		return
	}
	if err := opts.Send(frame); err != nil {
		d.Log.V(1).Info("cannot send reply", "err", err)
	}
}

func jsonrpcError(id interface{}, err interface{}) []byte {
	frame, ferr := jsonrpc.FormatError(id, err)
	if ferr != nil { // marshalling a code/message pair cannot realistically fail
		return nil
	}
	return frame
}
