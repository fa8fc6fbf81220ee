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

// Package gate caps concurrent handler executions with a fixed token
// pool and a bounded FIFO wait queue.
package gate

import "sync"
import "errors"
import "context"

import "github.com/flowrpc/flowrpc/sched"

// the wait queue is full, acquire fails synchronously
var ErrTooManyQueued = errors.New("gate: too many queued")

// a canceled ticket rejects with this unless the caller supplied a reason
var ErrAcquireCanceled = errors.New("gate: acquire canceled")

type TokenStatus int

const (
	TokenIdle TokenStatus = iota
	TokenWorking
	TokenStopped
)

// Token is a concurrency slot. Lifecycle: idle -> stopped (acquired) ->
// working (Begin) -> stopped (End) -> idle (released).
type Token struct {
	g      *Gate
	status TokenStatus
}

func (t *Token) Status() TokenStatus {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	return t.status
}

// Begin marks the token as working. Using a token that is not in the
// stopped state is a programming error.
func (t *Token) Begin() {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	if t.status != TokenStopped {
		panic("gate: Begin on a token that is not stopped")
	}
	t.status = TokenWorking
}

// End marks the working token stopped again, ready for release or
// another Begin.
func (t *Token) End() {
	t.g.mu.Lock()
	defer t.g.mu.Unlock()
	if t.status != TokenWorking {
		panic("gate: End on a token that is not working")
	}
	t.status = TokenStopped
}

type ticketStatus int

const (
	ticketQueued ticketStatus = iota
	ticketFinished
	ticketCanceled
)

// Ticket is the handle of a queued acquire. It resolves exactly once:
// with a token once one is released, or with an error on Cancel.
type Ticket struct {
	ch     chan *Token
	errch  chan error
	status ticketStatus
}

// Wait blocks until the ticket resolves or ctx is done. Abandoning a
// ticket on ctx expiry leaves it queued; pair Wait with Cancel.
func (t *Ticket) Wait(ctx context.Context) (*Token, error) {
	select {
	case tok := <-t.ch:
		return tok, nil
	case err := <-t.errch:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Gate is a fixed-size token pool with a bounded FIFO of pending
// acquirers.
type Gate struct {
	mu        sync.Mutex
	idle      []*Token
	queue     []*Ticket
	maxTokens int
	maxQueued int
	parallels *sched.Counter // outstanding tokens, drives WaitDrain
}

func New(maxTokens, maxQueued int) *Gate {
	if maxTokens <= 0 {
		panic("gate: maxTokens must be positive")
	}
	g := &Gate{
		maxTokens: maxTokens,
		maxQueued: maxQueued,
		parallels: sched.NewCounter(),
	}
	for i := 0; i < maxTokens; i++ {
		g.idle = append(g.idle, &Token{g: g, status: TokenIdle})
	}
	return g
}

// Acquire returns an already-stopped token when one is idle, or queues
// a ticket when the wait queue has room, or fails with ErrTooManyQueued.
// Exactly one of the three results is non-zero.
func (g *Gate) Acquire() (*Token, *Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.idle); n > 0 {
		tok := g.idle[n-1]
		g.idle = g.idle[:n-1]
		tok.status = TokenStopped
		g.parallels.Add(1)
		return tok, nil, nil
	}
	if len(g.queue) >= g.maxQueued {
		return nil, nil, ErrTooManyQueued
	}
	t := &Ticket{ch: make(chan *Token, 1), errch: make(chan error, 1)}
	g.queue = append(g.queue, t)
	return nil, t, nil
}

// Release returns a token. If the queue is non-empty the head ticket is
// resolved with it directly and the token never goes idle.
func (g *Gate) Release(tok *Token) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tok.status != TokenStopped {
		panic("gate: Release on a token that is not stopped")
	}
	for len(g.queue) > 0 {
		head := g.queue[0]
		g.queue = g.queue[1:]
		if head.status != ticketQueued { // canceled while queued, skip
			continue
		}
		head.status = ticketFinished
		head.ch <- tok
		return
	}
	tok.status = TokenIdle
	g.idle = append(g.idle, tok)
	g.parallels.Sub(1)
}

// Cancel removes a queued ticket and rejects its future. A ticket that
// already resolved is left alone.
func (g *Gate) Cancel(t *Ticket, reason error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.status != ticketQueued {
		return
	}
	for i := range g.queue {
		if g.queue[i] == t {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			break
		}
	}
	t.status = ticketCanceled
	if reason == nil {
		reason = ErrAcquireCanceled
	}
	t.errch <- reason
}

// Parallels reports outstanding (non-idle) tokens.
func (g *Gate) Parallels() int64 {
	return g.parallels.Value()
}

func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Available reports remaining wait-queue capacity.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxQueued - len(g.queue)
}

func (g *Gate) MaxTokens() int { return g.maxTokens }
func (g *Gate) MaxQueued() int { return g.maxQueued }

// Idle reports tokens currently in the idle pool.
func (g *Gate) Idle() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.idle)
}

// WaitDrain blocks until no tokens are outstanding.
func (g *Gate) WaitDrain(ctx context.Context) error {
	return g.parallels.WaitZero(ctx)
}
