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

package jsonrpc

import "sync"
import "time"
import "errors"
import "context"
import "strconv"

import "github.com/go-logr/logr"

import "github.com/flowrpc/flowrpc/sched"

// the correlator gave up waiting for a response
var ErrTimeout = errors.New("jsonrpc: request timed out")

// id allocation wraps between these bounds, serialized as decimal strings
const (
	MaxID = int64(1)<<53 - 1
	MinID = -MaxID
)

// NoTimeout disables the per-request timer.
const NoTimeout = time.Duration(-1)

type pending struct {
	fut   *sched.Future
	timer *time.Timer // nil when the request never times out
}

// Correlator pairs outbound requests with inbound responses by id and
// enforces per-request timeouts.
type Correlator struct {
	mu      sync.Mutex
	next    int64
	table   map[string]*pending
	entries *sched.Counter
	log     logr.Logger
}

func NewCorrelator(log logr.Logger) *Correlator {
	return &Correlator{
		table:   make(map[string]*pending),
		entries: sched.NewCounter(),
		log:     log,
	}
}

// CreateRequest allocates an id, registers a pending entry and returns
// the id, the wire frame and the future its response will settle.
// timeout < 0 means wait forever.
func (c *Correlator) CreateRequest(method string, params interface{}, timeout time.Duration) (string, []byte, *sched.Future, error) {
	c.mu.Lock()
	if c.next == MaxID {
		c.next = MinID // wraps, safe while outstanding requests are far fewer than the id space
	} else {
		c.next++
	}
	id := strconv.FormatInt(c.next, 10)
	fut := sched.NewFuture()
	p := &pending{fut: fut}
	c.table[id] = p
	c.entries.Add(1)
	if timeout >= 0 {
		p.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	}
	c.mu.Unlock()

	frame, err := FormatRequest(id, method, params)
	if err != nil {
		c.take(id)
		return "", nil, nil, err
	}
	return id, frame, fut, nil
}

// Fail rejects a single pending entry, used when the transport could
// not even put the request on the wire.
func (c *Correlator) Fail(id string, reason error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.fut.Reject(reason)
	return true
}

func (c *Correlator) expire(id string) {
	if p := c.take(id); p != nil {
		c.log.V(1).Info("request timed out", "id", id)
		p.fut.Reject(ErrTimeout)
	}
}

// take removes and returns the entry for id, or nil.
func (c *Correlator) take(id string) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.table[id]
	if !ok {
		return nil
	}
	delete(c.table, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	c.entries.Sub(1)
	return p
}

// DeliverResponse routes an inbound response frame to its pending
// entry and reports whether one matched. Responses arriving after a
// timeout find no entry and are dropped.
func (c *Correlator) DeliverResponse(m *Message) bool {
	p := c.take(IDKey(m.ID))
	if p == nil {
		return false
	}
	if m.Err != nil {
		p.fut.Reject(m.Err)
	} else {
		p.fut.Resolve(m.Result)
	}
	return true
}

// AbortAll rejects every pending entry with reason and clears the
// table.
func (c *Correlator) AbortAll(reason error) {
	c.mu.Lock()
	table := c.table
	c.table = make(map[string]*pending)
	n := int64(len(table))
	c.mu.Unlock()

	for _, p := range table {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.fut.Reject(reason)
	}
	c.entries.Sub(n)
}

// Pending reports the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// WaitDrain blocks until no requests remain outstanding.
func (c *Correlator) WaitDrain(ctx context.Context) error {
	return c.entries.WaitZero(ctx)
}
