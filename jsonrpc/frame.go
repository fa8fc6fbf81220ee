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

// Package jsonrpc implements the JSON-RPC 2.0 wire codec and the
// request/response correlator shared by all transports.
package jsonrpc

import "fmt"
import "math"
import "strconv"
import "encoding/json"

const Version = "2.0"

type Kind int

const (
	KindRequest Kind = iota
	KindNotify
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotify:
		return "notify"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// Message is a decoded JSON-RPC frame.
type Message struct {
	Kind   Kind
	ID     interface{} // as carried on the wire; nil for notifies
	Method string
	Params interface{}
	Result interface{}
	Err    *Error // set on error responses
}

// Parse decodes raw bytes into a frame. JSON failures map to
// CodeParse-coded errors, shape failures to CodeInvalidRequest-coded ones.
func Parse(data []byte) (*Message, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, &Error{Code: CodeParse, Message: err.Error()}
	}
	return ParseObject(obj)
}

// ParseObject classifies an already-decoded frame.
//
// Note the request/notify split follows id truthiness, not field
// presence: a frame carrying id 0, "" or null is treated as a notify.
// Correlator-allocated ids are decimal strings, so they are never falsy.
func ParseObject(obj map[string]interface{}) (*Message, error) {
	if v, _ := obj["jsonrpc"].(string); v != Version {
		return nil, &Error{Code: CodeInvalidRequest, Message: "jsonrpc version must be 2.0"}
	}
	if rawm, ok := obj["method"]; ok {
		method, ok := rawm.(string)
		if !ok || method == "" {
			return nil, &Error{Code: CodeInvalidRequest, Message: "method must be a non-empty string"}
		}
		m := &Message{Method: method, Params: obj["params"]}
		if id := obj["id"]; truthy(id) {
			m.Kind = KindRequest
			m.ID = id
		} else {
			m.Kind = KindNotify
		}
		return m, nil
	}
	_, hasResult := obj["result"]
	rawerr, hasError := obj["error"]
	if !hasResult && !hasError {
		return nil, &Error{Code: CodeInvalidRequest, Message: "frame carries neither method nor result/error"}
	}
	m := &Message{Kind: KindResponse, ID: obj["id"]}
	if hasError {
		m.Err = NewError(rawerr)
	} else {
		m.Result = obj["result"]
	}
	return m, nil
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case json.Number:
		return x.String() != "0"
	}
	return true
}

// IDKey normalizes a wire id into the string form used as the
// correlator table key.
func IDKey(id interface{}) string {
	switch x := id.(type) {
	case string:
		return x
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(id)
}

type wireRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type wireNotify struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type wireResult struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
}

type wireError struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Error   *Error      `json:"error"`
}

func FormatRequest(id string, method string, params interface{}) ([]byte, error) {
	return json.Marshal(wireRequest{Jsonrpc: Version, ID: id, Method: method, Params: params})
}

func FormatNotify(method string, params interface{}) ([]byte, error) {
	return json.Marshal(wireNotify{Jsonrpc: Version, Method: method, Params: params})
}

func FormatResult(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(wireResult{Jsonrpc: Version, ID: id, Result: result})
}

// FormatError normalizes err through NewError, so callers may pass a
// numeric code, a string, an *Error or any other error.
func FormatError(id interface{}, err interface{}) ([]byte, error) {
	return json.Marshal(wireError{Jsonrpc: Version, ID: id, Error: NewError(err)})
}
