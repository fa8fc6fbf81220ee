//go:build !wasm
// +build !wasm

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

// Package wsio adapts websocket connections into the message-oriented
// Conn interface the duplex peer consumes. One frame on the wire is one
// JSON-RPC frame, no additional framing.
package wsio

import "sync"

import "github.com/gorilla/websocket"

// Conn is the only thing the duplex layer needs from a socket: send one
// frame, receive one frame, close.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(p []byte) error
	Close() error
}

type gorillaConn struct {
	ws *websocket.Conn
	wm sync.Mutex // gorilla allows a single concurrent writer
}

// New wraps a gorilla websocket connection.
func New(ws *websocket.Conn) Conn {
	return &gorillaConn{ws: ws}
}

func (c *gorillaConn) ReadFrame() ([]byte, error) {
	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return p, nil
		}
		// control frames are handled by gorilla itself, skip the rest
	}
}

func (c *gorillaConn) WriteFrame(p []byte) error {
	c.wm.Lock()
	defer c.wm.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, p)
}

func (c *gorillaConn) Close() error {
	return c.ws.Close()
}
