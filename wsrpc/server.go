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
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	uuid "github.com/satori/go.uuid"

	"github.com/flowrpc/flowrpc/config"
	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/glue/wsio"
	"github.com/flowrpc/flowrpc/sched"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server listens for websocket connections on one path and keeps a
// peer per socket id.
type Server struct {
	Path string

	root *sched.Scheduler
	g    *gate.Gate
	reg  *dispatch.Registry
	log  logr.Logger

	// OnConnect/OnDisconnect are installed on every accepted peer.
	OnConnect    func(*Peer)
	OnDisconnect func(*Peer)

	stopped uint32

	mu    sync.Mutex
	peers map[string]*Peer
	srv   *http.Server
}

type ServerOptions struct {
	Path string     // defaults to /ws
	Gate *gate.Gate // optional, shared by all peers
}

func NewServer(reg *dispatch.Registry, log logr.Logger, opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	return &Server{
		Path:  opts.Path,
		root:  sched.New(nil),
		g:     opts.Gate,
		reg:   reg,
		log:   log,
		peers: make(map[string]*Peer),
	}
}

func (s *Server) Scheduler() *sched.Scheduler { return s.root }

// ServeHTTP upgrades the connection and binds it to a peer. A client
// presenting the socket id of a live peer displaces it: the old peer is
// aborted with ErrRepeatSocketID and closed first.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadUint32(&s.stopped) != 0 {
		http.Error(w, "service stopping", http.StatusServiceUnavailable)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.V(1).Error(err, "upgrade failed")
		return
	}

	sid := r.URL.Query().Get("sid")
	if sid == "" {
		sid = uuid.NewV4().String() // socket id assigned by the transport
	}

	s.mu.Lock()
	old := s.peers[sid]
	s.mu.Unlock()
	if old != nil {
		old.Abort(ErrRepeatSocketID)
		old.Close()
	}

	p := newPeer(sid, s.root, s.g, s.reg, s.log.WithValues("socket", sid))
	p.OnConnect = s.OnConnect
	p.OnDisconnect = func(pp *Peer) {
		s.mu.Lock()
		// only drop the index entry while it still points at this peer,
		// a replacement may already sit there
		if s.peers[pp.ID] == pp {
			delete(s.peers, pp.ID)
		}
		s.mu.Unlock()
		if s.OnDisconnect != nil {
			s.OnDisconnect(pp)
		}
	}

	s.mu.Lock()
	s.peers[sid] = p
	s.mu.Unlock()

	p.attach(wsio.New(ws))
}

// Peer looks up a live peer by socket id.
func (s *Server) Peer(sid string) (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[sid]
	return p, ok
}

// Peers snapshots the live peer set.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Start admits connections and, when addr is non-empty, begins
// listening.
func (s *Server) Start(addr string) error {
	atomic.StoreUint32(&s.stopped, 0)
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(s.Path, s)
	s.mu.Lock()
	s.srv = &http.Server{Addr: addr, Handler: mux}
	srv := s.srv
	s.mu.Unlock()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "websocket server failed")
		}
	}()
	s.log.Info("WS JSON-RPC server starting", "address", addr, "path", s.Path)
	return nil
}

// Stop rejects new connections; existing peers keep serving.
func (s *Server) Stop() {
	atomic.StoreUint32(&s.stopped, 1)
}

// Abort cancels all in-flight work on every peer.
func (s *Server) Abort(reason error) {
	if !s.root.Aborted() {
		s.root.Abort(reason)
	}
	for _, p := range s.Peers() {
		p.corr.AbortAll(reason)
	}
}

// WaitDrain awaits the root scheduler, the gate and every peer
// correlator.
func (s *Server) WaitDrain(ctx context.Context) error {
	if err := s.root.WaitDrain(ctx); err != nil {
		return err
	}
	if s.g != nil {
		if err := s.g.WaitDrain(ctx); err != nil {
			return err
		}
	}
	for _, p := range s.Peers() {
		if err := p.corr.WaitDrain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops accepting, waits out the grace period, then closes
// every peer socket and the listener.
func (s *Server) Shutdown(grace time.Duration) {
	if grace <= 0 {
		grace = time.Duration(config.DEFAULT_DRAIN_GRACE) * time.Millisecond
	}
	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.WaitDrain(ctx); err != nil {
		s.log.Info("drain deadline exceeded, terminating lingering peers")
		s.Abort(ErrDisconnect)
	}
	for _, p := range s.Peers() {
		p.Close()
	}
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
	s.log.Info("WS JSON-RPC server shutdown")
}
