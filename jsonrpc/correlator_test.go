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

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/sched"
)

var errBoom = errors.New("boom")

func Test_Correlator_Deliver(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	id, frame, fut, err := c.CreateRequest("echo", "wuhu", NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame) == 0 || id != "1" {
		t.Fatalf("first id = %q", id)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d", c.Pending())
	}

	if !c.DeliverResponse(&Message{Kind: KindResponse, ID: id, Result: "wuhu"}) {
		t.Fatalf("response did not match")
	}
	<-fut.Done()
	v, ferr := fut.Outcome()
	if ferr != nil || v != "wuhu" {
		t.Fatalf("outcome = %v, %v", v, ferr)
	}
	if c.Pending() != 0 {
		t.Fatalf("entry not reclaimed")
	}

	// a second delivery for the same id finds nothing
	if c.DeliverResponse(&Message{Kind: KindResponse, ID: id, Result: "again"}) {
		t.Fatalf("duplicate response matched")
	}
}

func Test_Correlator_ErrorResponse(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	id, _, fut, _ := c.CreateRequest("echo", nil, NoTimeout)
	c.DeliverResponse(&Message{Kind: KindResponse, ID: id, Err: &Error{Code: CodeNotFound, Message: "nope"}})
	<-fut.Done()
	_, err := fut.Outcome()
	var e *Error
	if !errors.As(err, &e) || e.Code != CodeNotFound {
		t.Fatalf("err = %v", err)
	}
}

func Test_Correlator_Timeout(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	id, _, fut, _ := c.CreateRequest("slow", nil, 20*time.Millisecond)
	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatalf("timeout never fired")
	}
	if _, err := fut.Outcome(); err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	// the late response is silently dropped
	if c.DeliverResponse(&Message{Kind: KindResponse, ID: id, Result: "late"}) {
		t.Fatalf("late response matched after timeout")
	}
}

func Test_Correlator_NoTimeout(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	_, _, fut, _ := c.CreateRequest("slow", nil, NoTimeout)
	select {
	case <-fut.Done():
		t.Fatalf("request with timeout -1 must never expire")
	case <-time.After(50 * time.Millisecond):
	}
	c.AbortAll(errBoom)
}

func Test_Correlator_AbortAll(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	var futs []*sched.Future
	for i := 0; i < 5; i++ {
		_, _, fut, _ := c.CreateRequest("m", nil, NoTimeout)
		futs = append(futs, fut)
	}
	c.AbortAll(errBoom)
	if c.Pending() != 0 {
		t.Fatalf("pending = %d after AbortAll", c.Pending())
	}
	for _, fut := range futs {
		<-fut.Done()
		if _, err := fut.Outcome(); err != errBoom {
			t.Fatalf("entry rejected with %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitDrain(ctx); err != nil {
		t.Fatalf("drain after AbortAll: %v", err)
	}
}

func Test_Correlator_IDWrap(t *testing.T) {
	c := NewCorrelator(logr.Discard())
	c.mu.Lock()
	c.next = MaxID - 1
	c.mu.Unlock()

	id1, _, _, _ := c.CreateRequest("m", nil, NoTimeout)
	id2, _, _, _ := c.CreateRequest("m", nil, NoTimeout)
	id3, _, _, _ := c.CreateRequest("m", nil, NoTimeout)
	if id1 != "9007199254740991" {
		t.Fatalf("id before wrap = %s", id1)
	}
	if id2 != "-9007199254740991" {
		t.Fatalf("id after wrap = %s", id2)
	}
	if id3 != "-9007199254740990" {
		t.Fatalf("id after wrap increments = %s", id3)
	}
	c.AbortAll(errBoom)
}
