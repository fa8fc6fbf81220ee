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

package main

import "io"
import "os"
import "fmt"
import "time"
import "strings"
import "runtime"
import "net/http"
import "os/signal"
import "path/filepath"

import "github.com/go-logr/logr"

import "github.com/chzyer/readline"
import "github.com/docopt/docopt-go"
import "gopkg.in/natefinch/lumberjack.v2"

import "github.com/flowrpc/flowrpc/bus"
import "github.com/flowrpc/flowrpc/config"
import "github.com/flowrpc/flowrpc/dispatch"
import "github.com/flowrpc/flowrpc/gate"
import "github.com/flowrpc/flowrpc/globals"
import "github.com/flowrpc/flowrpc/httprpc"
import "github.com/flowrpc/flowrpc/metrics"
import "github.com/flowrpc/flowrpc/wsrpc"

var command_line string = `flowrpcd
flowrpc : cooperative JSON-RPC service daemon

Usage:
  flowrpcd [--help] [--version] [--testnet] [--debug] [--http-bind=<127.0.0.1:20202>] [--ws-bind=<0.0.0.0:20203>] [--bus-bind=<0.0.0.0:20204>] [--bus-join=<ip:port>] [--node-name=<unique name>] [--max-tokens=<64>] [--max-queued=<256>] [--clog-level=1] [--flog-level=1]
  flowrpcd -h | --help
  flowrpcd --version

Options:
  -h --help     Show this screen.
  --version     Show version.
  --testnet  	Run in testnet mode.
  --debug       Debug mode enabled, print more log messages
  --clog-level=1	Set console log level (0 to 127)
  --flog-level=1	Set file log level (0 to 127)
  --http-bind=<127.0.0.1:20202>    HTTP JSON-RPC listens on this ip:port, specify port 0 to disable
  --ws-bind=<0.0.0.0:20203>    duplex websocket server listens on this ip:port, specify port 0 to disable
  --bus-bind=<0.0.0.0:20204>    multi-node bus hub listens on this ip:port, specify port 0 to disable
  --bus-join=<ip:port>	Join an existing bus hub instead of hosting one
  --node-name=<unique name>	Name of this node on the bus, visible to everyone
  --max-tokens=<64>	  Maximum concurrent gated handler executions
  --max-queued=<256>	  Maximum queued gated acquisitions before rejection

  `

var Exit_In_Progress = make(chan bool)

var logger logr.Logger

func main() {
	var err error
	globals.Arguments, err = docopt.Parse(command_line, nil, true, config.Version.String(), false)

	if err != nil {
		fmt.Printf("Error while parsing options err: %s\n", err)
		return
	}

	// We need to initialize readline first, so it changes stderr to ansi processor on windows

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[92mFLOW:\033[32m>>>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "flowrpcd_readline.tmp"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Printf("Error starting readline err: %s\n", err)
		return
	}
	defer l.Close()

	// parse arguments and setup logging , print basic information
	exename, _ := os.Executable()
	globals.InitializeLog(l.Stdout(), &lumberjack.Logger{
		Filename:   exename + ".log",
		MaxSize:    100, // megabytes
		MaxBackups: 2,
	})

	logger = globals.Logger.WithName("flowrpcd")

	logger.Info("flowrpc daemon")
	logger.Info("", "OS", runtime.GOOS, "ARCH", runtime.GOARCH, "GOMAXPROCS", runtime.GOMAXPROCS(0))
	logger.Info("", "Version", config.Version.String())

	logger.V(1).Info("", "Arguments", globals.Arguments)

	globals.Initialize() // setup network

	logger.V(0).Info("", "MODE", globals.Config.Name)

	metrics.Version = config.Version.String()

	svc, err := service_start(logger)
	if err != nil {
		logger.Error(err, "Error starting service")
		return
	}

	go func() {
		var gracefulStop = make(chan os.Signal, 1)
		signal.Notify(gracefulStop, os.Interrupt) // listen for interrupt only
		for {
			sig := <-gracefulStop
			logger.Info("received signal", "signal", sig)
			if sig.String() == "interrupt" {
				close(Exit_In_Progress)
				return
			}
		}
	}()

	for {
		if err = readline_loop(l, svc, logger); err == nil {
			break
		}
	}

	logger.Info("Exit in Progress, Please wait")
	time.Sleep(100 * time.Millisecond) // give prompt update time to finish

	svc.Shutdown()

	logger.Info("Shutdown complete")
}

func readline_loop(l *readline.Instance, svc *service, logger logr.Logger) (err error) {

	defer func() {
		if r := recover(); r != nil {
			logger.V(0).Error(nil, "Recovered ", "error", r)
			err = fmt.Errorf("crashed")
		}
	}()

	for {
		line, err := l.Readline()
		if err == io.EOF {
			<-Exit_In_Progress
			return nil
		}

		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				logger.Info("Ctrl-C received, Exit in progress")
				close(Exit_In_Progress)
				return nil
			} else {
				continue
			}
		}

		line = strings.TrimSpace(line)
		line_parts := strings.Fields(line)

		command := ""
		if len(line_parts) >= 1 {
			command = strings.ToLower(line_parts[0])
		}

		switch {
		case line == "help":
			usage(l.Stderr())

		case command == "status":
			svc.print_status(l.Stdout())

		case command == "version":
			fmt.Fprintf(l.Stdout(), "Version %s OS %s ARCH %s\n", config.Version.String(), runtime.GOOS, runtime.GOARCH)

		case command == "gc":
			runtime.GC()

		case line == "bye", line == "exit", line == "quit":
			close(Exit_In_Progress)
			return nil

		case line == "":
		default:
			fmt.Fprintf(l.Stderr(), "you said: %s\n", strconv_quote(line))
		}

		select {
		case <-Exit_In_Progress:
			return nil
		default:
		}
	}
}

func strconv_quote(s string) string {
	return fmt.Sprintf("%q", s)
}

func usage(w io.Writer) {
	io.WriteString(w, "commands:\n")
	io.WriteString(w, "\t\033[1mhelp\033[0m\t\tthis help\n")
	io.WriteString(w, "\t\033[1mstatus\033[0m\t\tshow gate/correlator/peer occupancy\n")
	io.WriteString(w, "\t\033[1mversion\033[0m\t\tshow version\n")
	io.WriteString(w, "\t\033[1mgc\033[0m\t\ttrigger garbage collection\n")
	io.WriteString(w, "\t\033[1mexit\033[0m\t\tquit the daemon\n")
}

// service ties the three transports to one registry and one gate.
type service struct {
	reg  *dispatch.Registry
	g    *gate.Gate
	http *httprpc.Transport
	ws   *wsrpc.Server
	node *bus.Node
	clu  *bus.Cluster
	msrv *http.Server
	log  logr.Logger
}

func (s *service) Shutdown() {
	grace := time.Duration(config.Settings.DRAIN_GRACE_MILLISECS) * time.Millisecond
	if s.http != nil {
		s.http.Shutdown(grace)
	}
	if s.ws != nil {
		s.ws.Shutdown(grace)
	}
	if s.node != nil {
		s.node.Close()
	}
	if s.clu != nil {
		s.clu.Close()
	}
	if s.msrv != nil {
		s.msrv.Close()
	}
}

func (s *service) print_status(w io.Writer) {
	fmt.Fprintf(w, "gate: %d/%d outstanding, %d queued (%d free)\n",
		s.g.Parallels(), s.g.MaxTokens(), s.g.Queued(), s.g.Available())
	if s.ws != nil {
		peers := s.ws.Peers()
		fmt.Fprintf(w, "peers: %d connected\n", len(peers))
		for _, p := range peers {
			fmt.Fprintf(w, "\t%s pending=%d connected=%v\n", p.ID, p.Pending(), p.Connected())
		}
	}
}
