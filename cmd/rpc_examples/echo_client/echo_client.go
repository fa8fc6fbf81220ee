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

// exercises a running flowrpcd over both transports: one echo through
// the HTTP bridge, one through the duplex websocket

package main

import "fmt"
import "time"

import "github.com/go-logr/logr"
import "github.com/ybbus/jsonrpc"

import "github.com/flowrpc/flowrpc/dispatch"
import "github.com/flowrpc/flowrpc/wsrpc"

const http_endpoint = "http://127.0.0.1:20202/json_rpc"
const ws_endpoint = "ws://127.0.0.1:20203/ws"

func main() {
	fmt.Printf("flowrpc echo client\n")

	// plain HTTP request/response
	rpcClient := jsonrpc.NewClient(http_endpoint)
	var result string
	if err := rpcClient.CallFor(&result, "echo", "wuhu"); err != nil {
		fmt.Printf("HTTP echo failed err %s\n", err)
		return
	}
	fmt.Printf("HTTP echo: %s\n", result)

	// duplex websocket, same method, same answer
	client := wsrpc.NewClient(ws_endpoint, dispatch.NewRegistry(), logr.Discard(), wsrpc.ClientOptions{})
	connected := make(chan struct{}, 1)
	client.Peer().OnConnect = func(*wsrpc.Peer) { connected <- struct{}{} }
	client.Start()
	defer client.Close()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		fmt.Printf("could not connect to %s\n", ws_endpoint)
		return
	}

	v, err := client.Call("echo", "wuhu", 5*time.Second)
	if err != nil {
		fmt.Printf("WS echo failed err %s\n", err)
		return
	}
	fmt.Printf("WS echo: %v\n", v)
}
