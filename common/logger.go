// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/JeffreyRichter/enum/enum"
)

type LogLevel uint8

const (
	LogNone LogLevel = iota
	LogPanic
	LogFatal
	LogError
	LogWarning
	LogInfo
	LogDebug
)

var ELogLevel = LogLevel(LogNone)

func (LogLevel) None() LogLevel    { return LogNone }
func (LogLevel) Panic() LogLevel   { return LogPanic }
func (LogLevel) Fatal() LogLevel   { return LogFatal }
func (LogLevel) Error() LogLevel   { return LogError }
func (LogLevel) Warning() LogLevel { return LogWarning }
func (LogLevel) Info() LogLevel    { return LogInfo }
func (LogLevel) Debug() LogLevel   { return LogDebug }

func (ll LogLevel) String() string {
	switch ll {
	case LogNone:
		return "NONE"
	case LogPanic:
		return "PANIC"
	case LogFatal:
		return "FATAL"
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARNING"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return enum.StringInt(ll, reflect.TypeOf(ll))
	}
}

func (ll *LogLevel) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(ll), s, true, true)
	if err == nil {
		*ll = val.(LogLevel)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type ILogger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string)
	Panic(err error)
}

type ILoggerCloser interface {
	ILogger
	CloseLog()
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

const maxLogSize = 500 * 1024 * 1024

type jobLogger struct {
	// any message with severity higher (i.e. more verbose) than this will be ignored
	jobID             JobID
	minimumLevelToLog LogLevel
	file              io.WriteCloser
	logger            *log.Logger
	sanitizer         LogSanitizer
}

// NewJobLogger opens <logFileFolder>/<jobID>.log. The file is rotated once it exceeds maxLogSize.
func NewJobLogger(jobID JobID, minimumLevelToLog LogLevel, logFileFolder string) (ILoggerCloser, error) {
	jl := &jobLogger{
		jobID:             jobID,
		minimumLevelToLog: minimumLevelToLog,
		sanitizer:         NewLogSanitizer(),
	}
	if minimumLevelToLog == LogNone {
		return jl, nil
	}

	if err := os.MkdirAll(logFileFolder, os.ModePerm); err != nil {
		return nil, err
	}
	file, err := NewRotatingWriter(filepath.Join(logFileFolder, jobID.String()+".log"), maxLogSize)
	if err != nil {
		return nil, err
	}
	jl.file = file
	jl.logger = log.New(jl.file, "", log.LstdFlags|log.LUTC)

	jl.logger.Println("BlobMoverVersion ", BlobMoverVersion)
	jl.logger.Println("OS-Environment ", runtime.GOOS)
	jl.logger.Println("OS-Architecture ", runtime.GOARCH)
	jl.logger.Println(fmt.Sprintf("Log times are in UTC. Local time is %s", time.Now().Format("2 Jan 2006 15:04:05")))
	return jl, nil
}

func (jl *jobLogger) ShouldLog(level LogLevel) bool {
	if level == LogNone {
		return false
	}
	return level <= jl.minimumLevelToLog
}

func (jl *jobLogger) CloseLog() {
	if jl.logger == nil {
		return
	}
	jl.logger.Println("Closing Log")
	_ = jl.file.Close() // If it was already closed, that's alright. We wanted to close it, anyway.
}

func (jl *jobLogger) Log(level LogLevel, msg string) {
	if jl.logger == nil || !jl.ShouldLog(level) {
		return
	}
	msg = jl.sanitizer.SanitizeLogMessage(msg)
	if level <= LogWarning {
		msg = fmt.Sprintf("%s: %s", level, msg) // so readers can find serious ones, but information ones still look uncluttered
	}
	jl.logger.Println(msg)
}

func (jl *jobLogger) Panic(err error) {
	jl.Log(LogPanic, err.Error()) // We do NOT panic in Log, only here
	panic(err)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// consoleLogger writes to an io.Writer (normally stderr). Used by the CLI when no log folder is wanted.
type consoleLogger struct {
	minimumLevelToLog LogLevel
	logger            *log.Logger
	sanitizer         LogSanitizer
}

func NewConsoleLogger(w io.Writer, minimumLevelToLog LogLevel) ILogger {
	return &consoleLogger{
		minimumLevelToLog: minimumLevelToLog,
		logger:            log.New(w, "", log.LstdFlags),
		sanitizer:         NewLogSanitizer(),
	}
}

func (cl *consoleLogger) ShouldLog(level LogLevel) bool {
	return level != LogNone && level <= cl.minimumLevelToLog
}

func (cl *consoleLogger) Log(level LogLevel, msg string) {
	if cl.ShouldLog(level) {
		cl.logger.Println(level.String() + ": " + cl.sanitizer.SanitizeLogMessage(msg))
	}
}

func (cl *consoleLogger) Panic(err error) {
	cl.logger.Println(err)
	panic(err)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) ShouldLog(LogLevel) bool { return false }
func (NopLogger) Log(LogLevel, string)    {}
func (NopLogger) Panic(err error)         { panic(err) }

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// prefixLogger tags every line with a fixed prefix, e.g. the transfer it relates to
type prefixLogger struct {
	inner  ILogger
	prefix string
}

func NewPrefixLogger(inner ILogger, prefix string) ILogger {
	if inner == nil {
		inner = NopLogger{}
	}
	return &prefixLogger{inner: inner, prefix: prefix}
}

func (p *prefixLogger) ShouldLog(level LogLevel) bool {
	return p.inner.ShouldLog(level)
}

func (p *prefixLogger) Log(level LogLevel, msg string) {
	if p.inner.ShouldLog(level) {
		p.inner.Log(level, p.prefix+strings.TrimSpace(msg))
	}
}

func (p *prefixLogger) Panic(err error) {
	p.inner.Panic(err)
}
