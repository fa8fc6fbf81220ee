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

// this file is the main metrics handler without any cyclic dependency on any other component

package metrics

import "fmt"
import "io"
import "time"
import "net/http"

import "github.com/VictoriaMetrics/metrics"

// these are exported by the daemon for various analysis
var Version string //this is later converted to metrics format

var Dispatch_Total = metrics.NewCounter(`dispatch_frames_total`)
var Dispatch_Errors = metrics.NewCounter(`dispatch_errors_total`)
var Dispatch_Notify_Dropped = metrics.NewCounter(`dispatch_notify_replies_dropped_total`)
var Gate_Rejected = metrics.NewCounter(`gate_rejected_total`)
var Correlator_Timeouts = metrics.NewCounter(`correlator_timeouts_total`)
var Peer_Connects = metrics.NewCounter(`peer_connects_total`)
var Peer_Disconnects = metrics.NewCounter(`peer_disconnects_total`)

var Dispatch_Duration = metrics.NewHistogram(`dispatch_duration_histogram_seconds`)

var startTime = time.Now()

var Set = metrics.NewSet() //all metrics are stored here

// register a gauge backed by a live callback, used by the daemon to
// expose gate occupancy
func NewGauge(name string, f func() float64) *metrics.Gauge {
	return Set.NewGauge(name, f)
}

// this is used if an agent wants to scrape
func WritePrometheus(w http.ResponseWriter, req *http.Request) {
	writePrometheusMetrics(w)
}

func writePrometheusMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
	metrics.WriteFDMetrics(w)
	Set.WritePrometheus(w)

	// Export start time and uptime in seconds
	fmt.Fprintf(w, "app_start_timestamp %d\n", startTime.Unix())
	fmt.Fprintf(w, "app_uptime_seconds %d\n", int(time.Since(startTime).Seconds()))
	fmt.Fprintf(w, "app_version{version=%q, short_version=%q} 1\n", Version, Version)
}
