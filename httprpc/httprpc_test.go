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

package httprpc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowrpc/flowrpc/dispatch"
	"github.com/flowrpc/flowrpc/gate"
	"github.com/flowrpc/flowrpc/sched"
)

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func Test_HTTP_Echo(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) {
		return c.Params, nil
	})
	tr := New(reg, logr.Discard(), Options{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	resp, body := post(t, srv.URL, `{"jsonrpc":"2.0","id":"1","method":"echo","params":"wuhu"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
	want := `{"jsonrpc":"2.0","id":"1","result":"wuhu"}`
	if body != want {
		t.Fatalf("body = %s, want %s", body, want)
	}
}

func Test_HTTP_HandlerError(t *testing.T) {
	reg := dispatch.NewRegistry()
	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) {
		if _, ok := c.Params.(string); !ok {
			return nil, errors.New("invalid params")
		}
		return c.Params, nil
	})
	tr := New(reg, logr.Discard(), Options{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	_, body := post(t, srv.URL, `{"jsonrpc":"2.0","id":"2","method":"echo","params":1}`)
	want := `{"jsonrpc":"2.0","id":"2","error":{"code":-32603,"message":"invalid params"}}`
	if body != want {
		t.Fatalf("body = %s, want %s", body, want)
	}
}

func Test_HTTP_ParseError(t *testing.T) {
	tr := New(dispatch.NewRegistry(), logr.Discard(), Options{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	_, body := post(t, srv.URL, `{]`)
	if !strings.Contains(body, `"code":-32700`) {
		t.Fatalf("body = %s", body)
	}
}

func Test_HTTP_Stopped(t *testing.T) {
	tr := New(dispatch.NewRegistry(), logr.Discard(), Options{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	tr.Stop()
	resp, _ := post(t, srv.URL, `{"jsonrpc":"2.0","id":"1","method":"echo"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status after Stop = %d", resp.StatusCode)
	}

	tr.Start("")
	// unknown method still answers 200 with a NotFound frame
	resp, body := post(t, srv.URL, `{"jsonrpc":"2.0","id":"1","method":"echo"}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"code":-32601`) {
		t.Fatalf("status after Start = %d body %s", resp.StatusCode, body)
	}
}

func Test_HTTP_GateUnavailable(t *testing.T) {
	reg := dispatch.NewRegistry()
	block := make(chan struct{})
	reg.Register("slow", func(c *dispatch.Call) (interface{}, error) {
		return c.Task.Run(sched.Go(func() (interface{}, error) {
			<-block
			return "done", nil
		}))
	})
	g := gate.New(1, 1) // one slot, one queue entry
	tr := New(reg, logr.Discard(), Options{Gate: g})
	srv := httptest.NewServer(tr)
	defer srv.Close()
	defer close(block)

	// first request takes the token, second fills the wait queue
	for i := 0; i < 2; i++ {
		go http.Post(srv.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":"1","method":"slow"}`))
	}
	deadline := time.Now().Add(time.Second)
	for g.Available() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("gate queue never filled")
		}
		time.Sleep(time.Millisecond)
	}

	// the next request is refused before it can even queue
	resp, _ := post(t, srv.URL, `{"jsonrpc":"2.0","id":"2","method":"slow"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("saturated gate status = %d", resp.StatusCode)
	}
}

// the client dropping mid-request aborts only that request's scheduler
func Test_HTTP_ClientAbort(t *testing.T) {
	reg := dispatch.NewRegistry()
	unwound := make(chan error, 1)
	reg.Register("slow", func(c *dispatch.Call) (interface{}, error) {
		err := c.Task.Sleep(time.Second)
		unwound <- err
		if err != nil {
			return "canceled", nil
		}
		return "finished", nil
	})
	tr := New(reg, logr.Discard(), Options{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, strings.NewReader(`{"jsonrpc":"2.0","id":"1","method":"slow"}`))
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if _, err := http.DefaultClient.Do(req); err == nil {
		t.Fatalf("request should have been canceled client-side")
	}

	select {
	case err := <-unwound:
		if !errors.Is(err, dispatch.ErrDisconnected) {
			t.Fatalf("handler unwound with %v, want disconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler race wait never woke")
	}

	// unrelated requests keep working, the abort was rooted at the child
	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) { return c.Params, nil })
	_, body := post(t, srv.URL, `{"jsonrpc":"2.0","id":"2","method":"echo","params":"ok"}`)
	if !strings.Contains(body, `"result":"ok"`) {
		t.Fatalf("sibling request affected: %s", body)
	}
}
