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

import "fmt"
import "encoding/json"

// well-known JSON-RPC 2.0 error codes
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeNotFound       = -32601
	CodeInternal       = -32603
	CodeServer         = -32000
)

// Error is the wire error object. It doubles as the Go error type for
// every recoverable failure of this package.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: %d %s", e.Code, e.Message)
}

func codeText(code int) string {
	switch code {
	case CodeParse:
		return "Parse error"
	case CodeInvalidRequest:
		return "Invalid Request"
	case CodeNotFound:
		return "Method not found"
	case CodeInternal:
		return "Internal error"
	case CodeServer:
		return "Server error"
	}
	return "Unknown error"
}

// NewError normalizes heterogeneous inputs into a wire error object:
// a numeric code, a bare string, an existing *Error, a decoded error
// map, or an arbitrary Go error. Anything unrecognized lands in the
// Internal bucket with its message preserved.
func NewError(v interface{}) *Error {
	switch x := v.(type) {
	case nil:
		return &Error{Code: CodeInternal, Message: codeText(CodeInternal)}
	case *Error:
		return x
	case Error:
		return &x
	case int:
		return &Error{Code: x, Message: codeText(x)}
	case float64:
		return &Error{Code: int(x), Message: codeText(int(x))}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return &Error{Code: int(n), Message: codeText(int(n))}
		}
		return &Error{Code: CodeInternal, Message: x.String()}
	case string:
		return &Error{Code: CodeInternal, Message: x}
	case map[string]interface{}: // decoded wire error object
		e := &Error{Code: CodeInternal}
		if c, ok := x["code"].(float64); ok {
			e.Code = int(c)
		}
		if m, ok := x["message"].(string); ok {
			e.Message = m
		} else {
			e.Message = codeText(e.Code)
		}
		return e
	case error:
		return &Error{Code: CodeInternal, Message: x.Error()}
	}
	return &Error{Code: CodeInternal, Message: fmt.Sprint(v)}
}
