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

package bus

import "sync"

// Mesh is the in-process bus medium: every posted envelope is handed
// to every attached node synchronously, in no particular cross-node
// order but in post order per node.
type Mesh struct {
	mu    sync.RWMutex
	nodes map[string]func(Envelope)
}

func NewMesh() *Mesh {
	return &Mesh{nodes: make(map[string]func(Envelope))}
}

func (m *Mesh) Post(env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, deliver := range m.nodes {
		deliver(env)
	}
	return nil
}

func (m *Mesh) Attach(name string, deliver func(Envelope)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[name]; ok {
		return ErrNameTaken
	}
	m.nodes[name] = deliver
	return nil
}

func (m *Mesh) Detach(name string) {
	m.mu.Lock()
	delete(m.nodes, name)
	m.mu.Unlock()
}
