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

package dispatch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/jsonrpc"
	"github.com/flowrpc/flowrpc/sched"
)

type capture struct {
	frames [][]byte
}

func (c *capture) send(frame []byte) error {
	c.frames = append(c.frames, frame)
	return nil
}

func (c *capture) decode(t *testing.T, i int) map[string]interface{} {
	t.Helper()
	if len(c.frames) <= i {
		t.Fatalf("no frame %d captured, have %d", i, len(c.frames))
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(c.frames[i], &obj); err != nil {
		t.Fatal(err)
	}
	return obj
}

func testDispatcher(reg *Registry, g *gate.Gate) *Dispatcher {
	return &Dispatcher{
		Registry:       reg,
		Sched:          sched.New(nil),
		Gate:           g,
		Log:            logr.Discard(),
		DefaultLimited: false,
		BusyReply:      true,
	}
}

func mustParse(t *testing.T, raw string) *jsonrpc.Message {
	t.Helper()
	m, err := jsonrpc.Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func Test_Dispatch_Echo(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(c *Call) (interface{}, error) {
		return c.Params, nil
	})
	d := testDispatcher(reg, nil)
	out := &capture{}

	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"1","method":"echo","params":"wuhu"}`), Options{Send: out.send})

	obj := out.decode(t, 0)
	if obj["result"] != "wuhu" || obj["id"] != "1" || obj["jsonrpc"] != "2.0" {
		t.Fatalf("reply = %v", obj)
	}
}

func Test_Dispatch_NotFound(t *testing.T) {
	d := testDispatcher(NewRegistry(), nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"2","method":"nope"}`), Options{Send: out.send})

	obj := out.decode(t, 0)
	e := obj["error"].(map[string]interface{})
	if int(e["code"].(float64)) != jsonrpc.CodeNotFound {
		t.Fatalf("code = %v", e["code"])
	}

	// a notify for an unknown method produces no reply at all
	out2 := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","method":"nope"}`), Options{Send: out2.send})
	if len(out2.frames) != 0 {
		t.Fatalf("notify produced %d frames", len(out2.frames))
	}
}

func Test_Dispatch_HandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(c *Call) (interface{}, error) {
		return nil, errors.New("invalid params")
	})
	d := testDispatcher(reg, nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"2","method":"echo","params":1}`), Options{Send: out.send})

	obj := out.decode(t, 0)
	e := obj["error"].(map[string]interface{})
	if int(e["code"].(float64)) != jsonrpc.CodeInternal || e["message"] != "invalid params" {
		t.Fatalf("error = %v", e)
	}
}

func Test_Dispatch_HandlerPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(c *Call) (interface{}, error) {
		panic("kaboom")
	})
	d := testDispatcher(reg, nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"3","method":"boom"}`), Options{Send: out.send})

	obj := out.decode(t, 0)
	e := obj["error"].(map[string]interface{})
	if e["message"] != "kaboom" {
		t.Fatalf("panic message lost: %v", e)
	}
}

func Test_Dispatch_NoReply(t *testing.T) {
	reg := NewRegistry()
	reg.Register("quiet", func(c *Call) (interface{}, error) {
		return NoReply, nil
	})
	d := testDispatcher(reg, nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"4","method":"quiet"}`), Options{Send: out.send})
	if len(out.frames) != 0 {
		t.Fatalf("NoReply still produced a frame")
	}
}

func Test_Dispatch_NotifyEnvelope(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echoNotify", func(c *Call) (interface{}, error) {
		return NotifyResponse{Method: "echoNotifyResponse", Params: c.Params}, nil
	})
	d := testDispatcher(reg, nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","method":"echoNotify","params":"wuhu"}`), Options{Send: out.send})

	obj := out.decode(t, 0)
	if obj["method"] != "echoNotifyResponse" || obj["params"] != "wuhu" {
		t.Fatalf("notify envelope = %v", obj)
	}
	if _, ok := obj["id"]; ok {
		t.Fatalf("notify must not carry an id")
	}
}

func Test_Dispatch_NotifyNeverReplies(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(c *Call) (interface{}, error) {
		return c.Params, nil // misbehaving: responds to a notify
	})
	d := testDispatcher(reg, nil)
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","method":"echo","params":"x"}`), Options{Send: out.send})
	if len(out.frames) != 0 {
		t.Fatalf("reply emitted for a notify")
	}
}

func Test_Dispatch_GateSaturation(t *testing.T) {
	reg := NewRegistry()
	block := make(chan struct{})
	limited := true
	reg.RegisterHandler("slow", Handler{
		Limited: &limited,
		Handle: func(c *Call) (interface{}, error) {
			fut := sched.Go(func() (interface{}, error) {
				<-block
				return nil, nil
			})
			return c.Task.Run(fut)
		},
	})
	g := gate.New(1, 1)
	d := testDispatcher(reg, g)

	// fill the token and the queue
	running := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			running <- struct{}{}
			d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"9","method":"slow"}`), Options{})
		}()
	}
	<-running
	<-running
	deadline := time.Now().Add(time.Second)
	for g.Available() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gate never saturated")
		}
		time.Sleep(time.Millisecond)
	}

	// the 3rd id-bearing request gets the Server code without running
	out := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"13","method":"slow"}`), Options{Send: out.send})
	obj := out.decode(t, 0)
	e := obj["error"].(map[string]interface{})
	if int(e["code"].(float64)) != jsonrpc.CodeServer {
		t.Fatalf("saturation code = %v", e["code"])
	}

	// a saturated notify is dropped silently
	out2 := &capture{}
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","method":"slow"}`), Options{Send: out2.send})
	if len(out2.frames) != 0 {
		t.Fatalf("saturated notify produced a frame")
	}

	close(block)
}

func Test_Dispatch_DisconnectSwallowed(t *testing.T) {
	reg := NewRegistry()
	entered := make(chan struct{})
	reg.Register("hang", func(c *Call) (interface{}, error) {
		close(entered)
		return c.Task.Race(sched.NewFuture())
	})
	d := testDispatcher(reg, nil)
	out := &capture{}

	disconnect := make(chan struct{})
	go func() {
		<-entered
		close(disconnect)
	}()
	d.Dispatch(mustParse(t, `{"jsonrpc":"2.0","id":"5","method":"hang"}`), Options{Send: out.send, Disconnect: disconnect})
	if len(out.frames) != 0 {
		t.Fatalf("disconnected request still produced %d frames", len(out.frames))
	}
}

func Test_Registry_Unregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("m", func(c *Call) (interface{}, error) { return nil, nil })
	if !reg.Unregister("m") {
		t.Fatalf("unregister of registered method failed")
	}
	if reg.Unregister("m") {
		t.Fatalf("second unregister must report not-present")
	}
	if _, ok := reg.Lookup("m"); ok {
		t.Fatalf("method still registered")
	}
}
