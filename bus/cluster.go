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

package bus

// this file implements the cross-process bus medium: a hub-and-spoke
// overlay where every link is one yamux stream carrying CBOR-encoded
// envelopes

import (
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-logr/logr"
	"github.com/hashicorp/yamux"
	"golang.org/x/xerrors"
)

type link struct {
	mu   sync.Mutex // serializes envelope writes
	enc  *cbor.Encoder
	sess *yamux.Session
}

func (l *link) post(env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(env)
}

// Cluster is the TCP bus medium. The hub relays every envelope it sees
// to its local nodes and all other links; spokes deliver locally what
// arrives from the hub. Either side satisfies Transport.
type Cluster struct {
	log logr.Logger
	hub bool

	mu     sync.RWMutex
	locals map[string]func(Envelope)
	links  map[*link]struct{}

	ln     net.Listener // hub only
	closed bool
}

// ListenCluster starts the hub side on addr.
func ListenCluster(addr string, log logr.Logger) (*Cluster, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("bus listen %s: %w", addr, err)
	}
	c := &Cluster{
		log:    log,
		hub:    true,
		locals: make(map[string]func(Envelope)),
		links:  make(map[*link]struct{}),
		ln:     ln,
	}
	go c.acceptLoop()
	log.Info("bus hub listening", "address", addr)
	return c, nil
}

// DialCluster joins an existing hub as a spoke.
func DialCluster(addr string, log logr.Logger) (*Cluster, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("bus dial %s: %w", addr, err)
	}
	sess, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	stream, err := sess.Open()
	if err != nil {
		sess.Close()
		return nil, err
	}
	c := &Cluster{
		log:    log,
		locals: make(map[string]func(Envelope)),
		links:  make(map[*link]struct{}),
	}
	l := &link{enc: cbor.NewEncoder(stream), sess: sess}
	c.mu.Lock()
	c.links[l] = struct{}{}
	c.mu.Unlock()
	go c.readLoop(l, stream)
	return c, nil
}

func (c *Cluster) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		go c.serveConn(conn)
	}
}

func (c *Cluster) serveConn(conn net.Conn) {
	sess, err := yamux.Server(conn, nil)
	if err != nil {
		conn.Close()
		return
	}
	stream, err := sess.Accept()
	if err != nil {
		sess.Close()
		return
	}
	l := &link{enc: cbor.NewEncoder(stream), sess: sess}
	c.mu.Lock()
	c.links[l] = struct{}{}
	c.mu.Unlock()
	c.readLoop(l, stream)
}

func (c *Cluster) readLoop(l *link, stream net.Conn) {
	dec := cbor.NewDecoder(stream)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			break
		}
		c.deliverLocal(env)
		if c.hub { // relay to every other link
			c.mu.RLock()
			for other := range c.links {
				if other == l {
					continue
				}
				if err := other.post(env); err != nil {
					c.log.V(1).Info("bus relay failed", "err", err)
				}
			}
			c.mu.RUnlock()
		}
	}
	c.mu.Lock()
	delete(c.links, l)
	c.mu.Unlock()
	l.sess.Close()
}

func (c *Cluster) deliverLocal(env Envelope) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, deliver := range c.locals {
		deliver(env)
	}
}

// Post publishes an envelope to the whole bus: local nodes first, then
// every link. The hub relays what a spoke posts to all other links but
// not back to the poster, so each side delivers its own posts locally.
func (c *Cluster) Post(env Envelope) error {
	c.deliverLocal(env)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return xerrors.New("bus: cluster closed")
	}
	for l := range c.links {
		if err := l.post(env); err != nil {
			c.log.V(1).Info("bus post failed", "err", err)
		}
	}
	return nil
}

func (c *Cluster) Attach(name string, deliver func(Envelope)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.locals[name]; ok {
		return ErrNameTaken
	}
	c.locals[name] = deliver
	return nil
}

func (c *Cluster) Detach(name string) {
	c.mu.Lock()
	delete(c.locals, name)
	c.mu.Unlock()
}

// Close tears the overlay down.
func (c *Cluster) Close() {
	c.mu.Lock()
	c.closed = true
	links := c.links
	c.links = make(map[*link]struct{})
	c.mu.Unlock()
	for l := range links {
		l.sess.Close()
	}
	if c.ln != nil {
		c.ln.Close()
	}
}
