// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logs wires up the process-wide btclog backend and hands each
// subsystem its own tagged logger, following the log.go convention shared
// across btcd-family binaries: a stdout writer plus an optional rotating
// file writer, one subsystem tag per package, and a SetLogLevel helper
// for runtime reconfiguration.
package logs

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/kadena-community/chainweb-mining-client-go/internal/nodeclient"
	"github.com/kadena-community/chainweb-mining-client-go/internal/orchestrator"
	"github.com/kadena-community/chainweb-mining-client-go/internal/retry"
	"github.com/kadena-community/chainweb-mining-client-go/internal/solver"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stratum"
)

// logRotator rotates the on-disk log file. nil until InitLogRotator runs.
var logRotator *rotator.Rotator

// logWriter multiplexes into both stdout and, if enabled, logRotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

var backendLog = btclog.NewBackend(logWriter{})

// subsystemTags names every package that exposes a UseLogger hook. Keep in
// sync with the UseLogger calls wired in InitLogging.
const (
	tagNode = "NODE"
	tagORCH = "ORCH"
	tagSLVR = "SLVR"
	tagSTRM = "STRM"
	tagCORE = "CORE"
	tagMain = "MAIN"
)

var subsystemLoggers = map[string]btclog.Logger{
	tagNode: backendLog.Logger(tagNode),
	tagORCH: backendLog.Logger(tagORCH),
	tagSLVR: backendLog.Logger(tagSLVR),
	tagSTRM: backendLog.Logger(tagSTRM),
	tagCORE: backendLog.Logger(tagCORE),
	tagMain: backendLog.Logger(tagMain),
}

// Main returns the top-level command's own tagged logger, for use by
// cmd/chainweb-mining-client directly.
func Main() btclog.Logger {
	return subsystemLoggers[tagMain]
}

// InitLogRotator opens a rotating log file at logFile and attaches it to
// the shared backend. Call before InitLogging if file logging is wanted.
func InitLogRotator(logFile string) error {
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("logs: failed to create rotator: %w", err)
	}
	logRotator = r
	return nil
}

// InitLogging wires every subsystem's UseLogger hook to its tagged logger
// and applies level to all of them.
func InitLogging(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("logs: unknown log level %q", level)
	}
	for _, l := range subsystemLoggers {
		l.SetLevel(lvl)
	}

	nodeclient.UseLogger(subsystemLoggers[tagNode])
	orchestrator.UseLogger(subsystemLoggers[tagORCH])
	solver.UseLogger(subsystemLoggers[tagSLVR])
	stratum.UseLogger(subsystemLoggers[tagSTRM])
	retry.UseLogger(subsystemLoggers[tagCORE])
	return nil
}

// SetLogLevel changes the level of a single subsystem tag at runtime. An
// unknown tag is a no-op, matching the btcd-family convention of silently
// ignoring unrecognized --debuglevel subsystem names.
func SetLogLevel(tag, level string) {
	logger, ok := subsystemLoggers[tag]
	if !ok {
		return
	}
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return
	}
	logger.SetLevel(lvl)
}

// Close flushes and closes the log rotator, if one was initialized.
func Close() {
	if logRotator != nil {
		logRotator.Close()
	}
}
