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

package globals

import "time"

import "github.com/go-logr/logr"

import "github.com/flowrpc/flowrpc/config"

// all the global variables used by the program are stored here
// since the entire logic is designed around a state machine driven by
// external events, once the core starts nothing changes until there is a
// network state change

var Subsystem_Active uint32 // atomic counter to show how many subsystems are active
var Exit_In_Progress bool
var StartTime = time.Now()

// on init this variable is updated to setup global config in 1 go
var Config config.SERVICE_CONFIG = config.Mainnet // default is mainnet

// global logger all components will use it with context
var Logger logr.Logger = logr.Discard() // default discard all logs

// all program arguments are available here
var Arguments = map[string]interface{}{}

func InitNetwork() {
	Config = config.Mainnet // default is mainnet
	if testnet, ok := Arguments["--testnet"].(bool); ok && testnet {
		Config = config.Testnet
	}
}

func IsMainnet() bool {
	return Config.Name == config.Mainnet.Name
}

func Initialize() {
	InitNetwork()
}
