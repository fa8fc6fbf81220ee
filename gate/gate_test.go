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

package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func checkInvariant(t *testing.T, g *Gate) {
	t.Helper()
	require.EqualValues(t, g.MaxTokens(), g.Parallels()+int64(g.Idle()),
		"outstanding + idle must equal maxTokens")
	require.LessOrEqual(t, g.Queued(), g.MaxQueued())
}

func Test_Gate_AcquireRelease(t *testing.T) {
	g := New(2, 2)
	checkInvariant(t, g)

	t1, tk1, err := g.Acquire()
	require.NoError(t, err)
	require.NotNil(t, t1)
	require.Nil(t, tk1)
	checkInvariant(t, g)

	t1.Begin()
	require.Equal(t, TokenWorking, t1.Status())
	t1.End()
	g.Release(t1)
	require.Equal(t, TokenIdle, t1.Status())
	checkInvariant(t, g)
	require.EqualValues(t, 0, g.Parallels())
}

func Test_Gate_QueueAndOverflow(t *testing.T) {
	g := New(1, 2)

	tok, _, err := g.Acquire()
	require.NoError(t, err)

	_, q1, err := g.Acquire()
	require.NoError(t, err)
	require.NotNil(t, q1)
	_, q2, err := g.Acquire()
	require.NoError(t, err)
	require.NotNil(t, q2)
	require.Equal(t, 0, g.Available())
	checkInvariant(t, g)

	// the (maxQueued+1)-th acquire fails synchronously
	_, _, err = g.Acquire()
	require.ErrorIs(t, err, ErrTooManyQueued)

	// a released token goes to the queue head, never idle
	g.Release(tok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q1.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, TokenStopped, got.Status())
	require.Equal(t, 0, g.Idle())
	checkInvariant(t, g)

	g.Release(got)
	got2, err := q2.Wait(ctx)
	require.NoError(t, err)
	g.Release(got2)
	require.EqualValues(t, 0, g.Parallels())
	checkInvariant(t, g)
}

func Test_Gate_Cancel(t *testing.T) {
	g := New(1, 1)
	tok, _, _ := g.Acquire()
	_, q, err := g.Acquire()
	require.NoError(t, err)

	reason := errors.New("changed my mind")
	g.Cancel(q, reason)
	g.Cancel(q, reason) // resolved once, second cancel is a no-op

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = q.Wait(ctx)
	require.ErrorIs(t, err, reason)

	// the canceled request must not swallow the released token
	g.Release(tok)
	require.Equal(t, 1, g.Idle())
	checkInvariant(t, g)
}

func Test_Gate_CancelAfterResolve(t *testing.T) {
	g := New(1, 1)
	tok, _, _ := g.Acquire()
	_, q, _ := g.Acquire()

	g.Release(tok) // resolves q with the token
	g.Cancel(q, errors.New("too late")) // no-op

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := q.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	g.Release(got)
}

func Test_Gate_WaitDrain(t *testing.T) {
	g := New(2, 0)
	t1, _, _ := g.Acquire()
	t2, _, _ := g.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	require.Error(t, g.WaitDrain(ctx))
	cancel()

	g.Release(t1)
	g.Release(t2)
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.WaitDrain(ctx))
}

func Test_Token_MisusePanics(t *testing.T) {
	g := New(1, 0)
	tok, _, _ := g.Acquire()
	tok.Begin()
	require.Panics(t, func() { tok.Begin() }, "Begin on a working token")
	tok.End()
	require.Panics(t, func() { tok.End() }, "End on a stopped token")
	g.Release(tok)
	require.Panics(t, func() { g.Release(tok) }, "Release of an idle token")
}
