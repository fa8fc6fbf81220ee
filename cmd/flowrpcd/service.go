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

package main

// wires the transports together and registers the built-in service
// methods (echo, echoNotify, ping, sleep)

import "fmt"
import "net"
import "time"
import "errors"
import "net/http"
import "strconv"

import "github.com/go-logr/logr"

import "github.com/flowrpc/flowrpc/bus"
import "github.com/flowrpc/flowrpc/config"
import "github.com/flowrpc/flowrpc/dispatch"
import "github.com/flowrpc/flowrpc/gate"
import "github.com/flowrpc/flowrpc/globals"
import "github.com/flowrpc/flowrpc/httprpc"
import "github.com/flowrpc/flowrpc/metrics"
import "github.com/flowrpc/flowrpc/wsrpc"

func bind_address(arg string, default_port int) (string, bool, error) {
	addr_str := "0.0.0.0:" + fmt.Sprintf("%d", default_port)
	if v, ok := globals.Arguments[arg]; ok && v != nil {
		a, err := net.ResolveTCPAddr("tcp", v.(string))
		if err != nil {
			return "", false, fmt.Errorf("%s address is invalid: %w", arg, err)
		}
		if a.Port == 0 {
			return "", false, nil // user disabled this transport
		}
		addr_str = a.String()
	}
	return addr_str, true, nil
}

func int_argument(arg string, def int) int {
	if v, ok := globals.Arguments[arg]; ok && v != nil {
		if i, err := strconv.Atoi(v.(string)); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func service_start(logger logr.Logger) (*service, error) {
	svc := &service{log: logger}

	maxTokens := int_argument("--max-tokens", config.Settings.GATE_MAX_TOKENS)
	maxQueued := int_argument("--max-queued", config.Settings.GATE_MAX_QUEUED)
	svc.g = gate.New(maxTokens, maxQueued)
	metrics.NewGauge(`gate_tokens_outstanding`, func() float64 { return float64(svc.g.Parallels()) })
	metrics.NewGauge(`gate_requests_queued`, func() float64 { return float64(svc.g.Queued()) })

	svc.reg = dispatch.NewRegistry()
	register_service_methods(svc.reg)

	// HTTP transport
	if addr, enabled, err := bind_address("--http-bind", globals.Config.HTTP_Default_Port); err != nil {
		return nil, err
	} else if enabled {
		svc.http = httprpc.New(svc.reg, logger.WithName("HTTP"), httprpc.Options{Gate: svc.g})
		if err := svc.http.Start(addr); err != nil {
			return nil, err
		}

		// metrics ride on their own mux next to the rpc endpoint
		mmux := http.NewServeMux()
		mmux.HandleFunc("/metrics", metrics.WritePrometheus)
		if a, err := net.ResolveTCPAddr("tcp", addr); err == nil {
			svc.msrv = &http.Server{Addr: fmt.Sprintf("%s:%d", a.IP.String(), a.Port+100), Handler: mmux}
			go svc.msrv.ListenAndServe()
		}
	}

	// duplex websocket transport
	if addr, enabled, err := bind_address("--ws-bind", globals.Config.WS_Default_Port); err != nil {
		return nil, err
	} else if enabled {
		svc.ws = wsrpc.NewServer(svc.reg, logger.WithName("WS"), wsrpc.ServerOptions{Gate: svc.g})
		if err := svc.ws.Start(addr); err != nil {
			return nil, err
		}
	}

	// multi-node bus: host a hub unless joining an existing one
	node_name := ""
	if v, ok := globals.Arguments["--node-name"]; ok && v != nil {
		node_name = v.(string)
	}
	if node_name != "" {
		var tr bus.Transport
		if v, ok := globals.Arguments["--bus-join"]; ok && v != nil {
			clu, err := bus.DialCluster(v.(string), logger.WithName("BUS"))
			if err != nil {
				return nil, err
			}
			svc.clu = clu
			tr = clu
		} else if addr, enabled, err := bind_address("--bus-bind", globals.Config.Bus_Default_Port); err != nil {
			return nil, err
		} else if enabled {
			clu, err := bus.ListenCluster(addr, logger.WithName("BUS"))
			if err != nil {
				return nil, err
			}
			svc.clu = clu
			tr = clu
		}
		if tr != nil {
			node, err := bus.NewNode(node_name, tr, svc.reg, logger.WithName("BUS"))
			if err != nil {
				return nil, err
			}
			svc.node = node
		}
	}

	return svc, nil
}

func register_service_methods(reg *dispatch.Registry) {
	reg.Register("ping", func(c *dispatch.Call) (interface{}, error) {
		return "pong", nil
	})

	reg.Register("echo", func(c *dispatch.Call) (interface{}, error) {
		return c.Params, nil
	})

	// answers a notify with a notify, the out-of-band response path
	reg.Register("echoNotify", func(c *dispatch.Call) (interface{}, error) {
		return dispatch.NotifyResponse{Method: "echoNotifyResponse", Params: c.Params}, nil
	})

	// suspends for the requested number of milliseconds; a client going
	// away cuts the suspension short
	reg.Register("sleep", func(c *dispatch.Call) (interface{}, error) {
		ms, ok := c.Params.(float64)
		if !ok || ms < 0 {
			return nil, errors.New("invalid params")
		}
		if err := c.Task.Sleep(time.Duration(ms) * time.Millisecond); err != nil {
			return "canceled", nil
		}
		return "slept", nil
	})
}
