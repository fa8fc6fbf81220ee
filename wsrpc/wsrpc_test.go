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

package wsrpc

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/jsonrpc"
	"github.com/flowrpc/flowrpc/sched"
)

const callTimeout = 5 * time.Second

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func startServer(t *testing.T, reg *dispatch.Registry, g *gate.Gate) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(reg, logr.Discard(), ServerOptions{Gate: g})
	hs := httptest.NewServer(s)
	t.Cleanup(hs.Close)
	return s, hs
}

func startClient(t *testing.T, url string, reg *dispatch.Registry) (*Client, chan struct{}, chan struct{}) {
	t.Helper()
	c := NewClient(url, reg, logr.Discard(), ClientOptions{ReconnectDelay: 50 * time.Millisecond})
	connects := make(chan struct{}, 8)
	disconnects := make(chan struct{}, 8)
	c.Peer().OnConnect = func(*Peer) { connects <- struct{}{} }
	c.Peer().OnDisconnect = func(*Peer) { disconnects <- struct{}{} }
	c.Start()
	t.Cleanup(c.Close)
	return c, connects, disconnects
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func Test_Duplex_Echo(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) {
		return c.Params, nil
	})
	_, hs := startServer(t, reg, nil)
	c, connects, _ := startClient(t, wsURL(hs, "/ws"), dispatch.NewRegistry())
	waitSignal(t, connects, "connect")

	v, err := c.Call("echo", "wuhu", callTimeout)
	if err != nil || v != "wuhu" {
		t.Fatalf("echo = %v, %v", v, err)
	}
}

// socket forcibly destroyed; within the reconnect delay the same peer
// serves again, emitting exactly one disconnect and one connect
func Test_Duplex_Reconnect(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) {
		return c.Params, nil
	})
	srv, hs := startServer(t, reg, nil)
	c, connects, disconnects := startClient(t, wsURL(hs, "/ws"), dispatch.NewRegistry())
	waitSignal(t, connects, "first connect")

	if v, err := c.Call("echo", "wuhu", callTimeout); err != nil || v != "wuhu" {
		t.Fatalf("first echo = %v, %v", v, err)
	}

	// destroy the socket from the server end
	sp, ok := srv.Peer(c.Peer().ID)
	if !ok {
		t.Fatalf("server has no peer for the client socket id")
	}
	sp.Close()

	waitSignal(t, disconnects, "disconnect")
	waitSignal(t, connects, "reconnect")

	if v, err := c.Call("echo", "wuhu", callTimeout); err != nil || v != "wuhu" {
		t.Fatalf("echo after reconnect = %v, %v", v, err)
	}

	if n := len(disconnects); n != 0 {
		t.Fatalf("%d extra disconnect events", n)
	}
	if n := len(connects); n != 0 {
		t.Fatalf("%d extra connect events", n)
	}
}

// a request in flight when the socket drops fails with "disconnect"
// without waiting out its timeout
func Test_Duplex_CallFailsOnDisconnect(t *testing.T) {
	reg := dispatch.NewRegistry()
	entered := make(chan struct{})
	reg.Register("hang", func(c *dispatch.Call) (interface{}, error) {
		close(entered)
		return c.Task.Race(sched.NewFuture())
	})
	srv, hs := startServer(t, reg, nil)
	c, connects, _ := startClient(t, wsURL(hs, "/ws"), dispatch.NewRegistry())
	waitSignal(t, connects, "connect")

	done := make(chan error, 1)
	go func() {
		_, err := c.Call("hang", nil, time.Hour)
		done <- err
	}()
	waitSignal(t, entered, "handler entry")

	sp, _ := srv.Peer(c.Peer().ID)
	sp.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrDisconnect) {
			t.Fatalf("in-flight call failed with %v, want disconnect", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("in-flight call survived the disconnect")
	}
}

// the server can push requests to a connected client
func Test_Duplex_ServerPush(t *testing.T) {
	clientReg := dispatch.NewRegistry()
	clientReg.Register("whoami", func(c *dispatch.Call) (interface{}, error) {
		return "client", nil
	})
	srv, hs := startServer(t, dispatch.NewRegistry(), nil)
	c, connects, _ := startClient(t, wsURL(hs, "/ws"), clientReg)
	waitSignal(t, connects, "connect")

	sp, ok := srv.Peer(c.Peer().ID)
	if !ok {
		t.Fatalf("no server-side peer")
	}
	v, err := sp.Call("whoami", nil, callTimeout)
	if err != nil || v != "client" {
		t.Fatalf("server push = %v, %v", v, err)
	}
}

func Test_Duplex_GateSaturation(t *testing.T) {
	reg := dispatch.NewRegistry()
	block := make(chan struct{})
	var running int32
	limited := true
	reg.RegisterHandler("slow", dispatch.Handler{
		Limited: &limited,
		Handle: func(c *dispatch.Call) (interface{}, error) {
			atomic.AddInt32(&running, 1)
			return c.Task.Run(sched.Go(func() (interface{}, error) {
				<-block
				return "done", nil
			}))
		},
	})
	defer close(block)

	g := gate.New(1, 1)
	_, hs := startServer(t, reg, g)
	c, connects, _ := startClient(t, wsURL(hs, "/ws"), dispatch.NewRegistry())
	waitSignal(t, connects, "connect")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Call("slow", nil, callTimeout)
			results <- err
		}()
	}
	deadline := time.Now().Add(5 * time.Second)
	for g.Available() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gate never saturated")
		}
		time.Sleep(time.Millisecond)
	}

	// the overflow request is answered with the Server code immediately
	_, err := c.Call("slow", nil, callTimeout)
	var e *jsonrpc.Error
	if !errors.As(err, &e) || e.Code != jsonrpc.CodeServer {
		t.Fatalf("overflow call err = %v, want code %d", err, jsonrpc.CodeServer)
	}
}
