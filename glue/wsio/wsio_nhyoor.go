//go:build wasm
// +build wasm

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

// wasm builds ride on nhooyr.io/websocket which wraps the browser
// websocket API.
package wsio

import "context"

import "nhooyr.io/websocket"

type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(p []byte) error
	Close() error
}

type nhooyrConn struct {
	ws *websocket.Conn
}

func NewNhooyr(ws *websocket.Conn) Conn {
	ws.SetReadLimit(2 * 1024 * 1024)
	return &nhooyrConn{ws: ws}
}

func (c *nhooyrConn) ReadFrame() ([]byte, error) {
	_, p, err := c.ws.Read(context.Background())
	return p, err
}

func (c *nhooyrConn) WriteFrame(p []byte) error {
	return c.ws.Write(context.Background(), websocket.MessageText, p)
}

func (c *nhooyrConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
