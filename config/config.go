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

package config

import "github.com/satori/go.uuid"
import "github.com/caarlos0/env/v6"

// all global configuration variables are picked from here

// how long a stopping transport waits for in-flight requests before
// terminating lingering sockets, this is in millisecs
const DEFAULT_DRAIN_GRACE = uint64(5000)

// how long a duplex client waits between reconnection attempts
const DEFAULT_RECONNECT_DELAY = uint64(1000)

// per-request timeout for callers without a better value, this is in
// millisecs; correlators apply no default of their own and take the
// timeout from each call, where a negative value means wait forever
const DEFAULT_REQUEST_TIMEOUT = uint64(30 * 1000)

// reserved destination name on the multi-node bus
const BUS_BROADCAST_NAME = "all"

type SettingsStruct struct {
	GATE_MAX_TOKENS int `env:"GATE_MAX_TOKENS" envDefault:"64"`
	GATE_MAX_QUEUED int `env:"GATE_MAX_QUEUED" envDefault:"256"`

	DRAIN_GRACE_MILLISECS     int64 `env:"DRAIN_GRACE_MILLISECS" envDefault:"5000"`
	RECONNECT_DELAY_MILLISECS int64 `env:"RECONNECT_DELAY_MILLISECS" envDefault:"1000"`
}

var Settings SettingsStruct

var _ = env.Parse(&Settings)

// we can have a number of deployments running for testing reasons
type SERVICE_CONFIG struct {
	Name       string
	Network_ID uuid.UUID // network ID

	HTTP_Default_Port int
	WS_Default_Port   int
	Bus_Default_Port  int
}

var Mainnet = SERVICE_CONFIG{Name: "mainnet",
	Network_ID:        uuid.FromBytesOrNil([]byte{0x46, 0x4c, 0x4f, 0x57, 0xdd, 0x48, 0xd5, 0xfd, 0x13, 0x0a, 0xf6, 0xe0, 0x9a, 0x44, 0x45, 0x0}),
	HTTP_Default_Port: 20202,
	WS_Default_Port:   20203,
	Bus_Default_Port:  20204,
}

var Testnet = SERVICE_CONFIG{Name: "testnet", // testnet will always have last 3 bytes 0
	Network_ID:        uuid.FromBytesOrNil([]byte{0x46, 0x4c, 0x4f, 0x57, 0xdd, 0x48, 0xd5, 0xfd, 0x13, 0x0a, 0xf6, 0xe0, 0x70, 0x00, 0x00, 0x00}),
	HTTP_Default_Port: 40402,
	WS_Default_Port:   40403,
	Bus_Default_Port:  40404,
}
