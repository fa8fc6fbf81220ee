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
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/xerrors"

	"github.com/flowrpc/flowrpc/config"
	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/glue/wsio"
	"github.com/flowrpc/flowrpc/sched"
)

// Client dials a wsrpc server and keeps one peer alive across
// reconnects. Requests issued between a disconnect and the next
// successful dial fail with "disconnect"; once reconnected the same
// peer object serves again.
type Client struct {
	URL string

	peer  *Peer
	log   logr.Logger
	delay time.Duration
	ping  time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

type ClientOptions struct {
	Gate           *gate.Gate
	ReconnectDelay time.Duration // defaults to config.DEFAULT_RECONNECT_DELAY
	PingInterval   time.Duration // 0 = no keepalive
}

func NewClient(url string, reg *dispatch.Registry, log logr.Logger, opts ClientOptions) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Duration(config.DEFAULT_RECONNECT_DELAY) * time.Millisecond
	}
	sid := uuid.NewV4().String() // stable across reconnects so the server can spot us
	c := &Client{
		URL:   url,
		log:   log,
		delay: opts.ReconnectDelay,
		ping:  opts.PingInterval,
		stop:  make(chan struct{}),
	}
	c.peer = newPeer(sid, sched.New(nil), opts.Gate, reg, log.WithValues("socket", sid))
	return c
}

// Peer exposes the client's single peer, e.g. to install event hooks
// before Start.
func (c *Client) Peer() *Peer { return c.peer }

// Start launches the connectivity loop. It returns immediately; the
// first dial happens on the loop goroutine.
func (c *Client) Start() {
	go c.keepConnectivity()
	if c.ping > 0 {
		go c.keepAlive()
	}
}

// this function continuously turns connectivity online/offline
func (c *Client) keepConnectivity() {
	for {
		conn, err := c.dial()
		if err != nil {
			c.log.V(1).Info("connection failed", "url", c.URL, "err", err)
		} else {
			c.peer.run(conn) // blocks until the socket drops
		}
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		select {
		case <-c.stop:
			return
		case <-time.After(c.delay):
		}
	}
}

func (c *Client) dial() (wsio.Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(c.URL+"?sid="+c.peer.ID, nil)
	if err != nil {
		return nil, xerrors.Errorf("dial %s: %w", c.URL, err)
	}
	return wsio.New(ws), nil
}

// keepAlive pings the server; a failed ping forces the socket down so
// the connectivity loop redials.
func (c *Client) keepAlive() {
	t := time.NewTicker(c.ping)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			if !c.peer.Connected() {
				continue
			}
			if _, err := c.peer.Call("ping", nil, c.ping); err != nil {
				c.log.V(1).Info("keepalive failed", "err", err)
				c.peer.Close()
			}
		}
	}
}

// Call forwards to the peer.
func (c *Client) Call(method string, params interface{}, timeout time.Duration) (interface{}, error) {
	return c.peer.Call(method, params, timeout)
}

func (c *Client) Notify(method string, params interface{}) error {
	return c.peer.Notify(method, params)
}

// Close disconnects without reconnection intent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	c.mu.Unlock()
	c.peer.Close()
}
