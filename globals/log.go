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

import "io"
import "fmt"

import "go.uber.org/zap"
import "go.uber.org/zap/zapcore"
import "github.com/go-logr/zapr"

// these 2 global variables control all log levels
var Log_Level_Console = zap.NewAtomicLevelAt(zapcore.Level(0)) // default info level
var Log_Level_File = zap.NewAtomicLevelAt(zapcore.Level(-1))   // default debug level

// remove caller information from console
type removeCallerCore struct {
	zapcore.Core
}

func (c *removeCallerCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Check(entry, nil) == nil {
		return ce
	}
	return ce.AddCore(entry, c)
}
func (c *removeCallerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Caller = zapcore.EntryCaller{}
	return c.Core.Write(entry, fields)
}
func (c *removeCallerCore) With(fields []zap.Field) zapcore.Core {
	return &removeCallerCore{c.Core.With(fields)}
}

func InitializeLog(console, logfile io.Writer) {

	if debug, ok := Arguments["--debug"].(bool); ok && debug { // setup debug mode if requested
		Log_Level_Console = zap.NewAtomicLevelAt(zapcore.Level(-1))
	}

	if Arguments["--clog-level"] != nil { // setup log level if requested
		var log_level int8
		fmt.Sscan(Arguments["--clog-level"].(string), &log_level)
		if log_level < 0 {
			log_level = 0
		}
		Log_Level_Console = zap.NewAtomicLevelAt(zapcore.Level(0 - log_level))
	}

	if Arguments["--flog-level"] != nil { // setup log level if requested
		var log_level int8
		fmt.Sscan(Arguments["--flog-level"].(string), &log_level)
		if log_level < 0 {
			log_level = 0
		}
		Log_Level_File = zap.NewAtomicLevelAt(zapcore.Level(0 - log_level))
	}

	zf := zap.NewDevelopmentEncoderConfig()
	zc := zap.NewDevelopmentEncoderConfig()
	zc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zc.EncodeTime = zapcore.TimeEncoderOfLayout("02/01 15:04:05")

	file_encoder := zapcore.NewJSONEncoder(zf)
	console_encoder := zapcore.NewConsoleEncoder(zc)

	core_console := zapcore.NewCore(console_encoder, zapcore.AddSync(console), Log_Level_Console)
	removecore := &removeCallerCore{core_console}
	core := zapcore.NewTee(
		removecore,
		zapcore.NewCore(file_encoder, zapcore.AddSync(logfile), Log_Level_File),
	)

	zcore := zap.New(core, zap.AddCaller()) // add caller info to every record which is then trimmed from console

	Logger = zapr.NewLogger(zcore) // sets up global logger

	// remember -1 is debug, 0 is info
}
