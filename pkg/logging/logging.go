// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging sets up the agent's two daily-rotating log files (the
// operational log and the debug log, per spec §6 "Log layout") plus an
// optional colorized console mirror, and wires them into the standard
// library's log package the same way the teacher's daemon does: no
// structured logging framework, just log.Logger over an io.Writer.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/klauspost/compress/zstd"
)

// Level is one of the five levels the --log-level flag accepts.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses the --log-level flag's value, written in all
// uppercase or all lowercase; an empty string means INFO.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "DEBUG", "debug":
		return Debug, nil
	case "INFO", "info", "":
		return Info, nil
	case "WARNING", "warning":
		return Warning, nil
	case "ERROR", "error":
		return Error, nil
	case "CRITICAL", "critical":
		return Critical, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}

var levelColor = map[Level]*color.Color{
	Debug:    color.New(color.FgCyan),
	Info:     color.New(color.FgGreen),
	Warning:  color.New(color.FgYellow),
	Error:    color.New(color.FgRed),
	Critical: color.New(color.FgRed, color.Bold),
}

// DailyRotatingWriter is an io.Writer backed by a file that's replaced
// at each calendar-date boundary. The previous day's file is zstd
// compressed and the uncompressed original removed, in the idiom of
// the teacher's codecutil.ZstdCompress.
type DailyRotatingWriter struct {
	dir    string
	prefix string

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyRotatingWriter returns a writer that creates
// "{dir}/{prefix}-YYYY-MM-DD.log", creating dir if necessary.
func NewDailyRotatingWriter(dir, prefix string) (*DailyRotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	w := &DailyRotatingWriter{dir: dir, prefix: prefix}
	if err := w.rotateLocked(time.Now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *DailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if day := now.Format("2006-01-02"); day != w.day {
		if err := w.rotateLocked(now); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *DailyRotatingWriter) rotateLocked(now time.Time) error {
	prevFile, prevDay := w.file, w.day

	day := now.Format("2006-01-02")
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	w.file = f
	w.day = day

	if prevFile != nil {
		prevPath := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, prevDay))
		prevFile.Close()
		go compressAndRemove(prevPath)
	}
	return nil
}

// Close closes the current underlying file.
func (w *DailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// compressAndRemove zstd-compresses path to path+".zst" and removes the
// uncompressed original. Best-effort: a rotation that fails to compress
// still leaves the plain log file in place, so nothing is lost.
func compressAndRemove(path string) {
	src, err := os.Open(path)
	if err != nil {
		log.Printf("logging: open %s for rotation compress: %v", path, err)
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".zst")
	if err != nil {
		log.Printf("logging: create %s.zst: %v", path, err)
		return
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		log.Printf("logging: zstd writer for %s: %v", path, err)
		return
	}
	if _, err := io.Copy(enc, src); err != nil {
		log.Printf("logging: compress %s: %v", path, err)
		enc.Close()
		return
	}
	if err := enc.Close(); err != nil {
		log.Printf("logging: finalize zstd for %s: %v", path, err)
		return
	}
	if err := os.Remove(path); err != nil {
		log.Printf("logging: remove %s after compress: %v", path, err)
	}
}

// Logger is a level-aware wrapper over the standard library's log
// package: each call tags its line with a level and routes it to the
// operational log (always INFO and above), the debug log (everything
// at or above the configured --log-level), and an optional console
// mirror, colorized by level when the console is a terminal.
type Logger struct {
	level      Level
	opLog      *log.Logger
	dbgLog     *log.Logger
	console    io.Writer
	isTerminal bool
}

func (l *Logger) log(lvl Level, format string, args ...any) {
	msg := fmt.Sprintf("%s %s", lvl, fmt.Sprintf(format, args...))
	if lvl >= Info {
		l.opLog.Print(msg)
	}
	if lvl >= l.level {
		l.dbgLog.Print(msg)
		if l.console != nil {
			line := time.Now().Format("2006/01/02 15:04:05") + " " + msg + "\n"
			if l.isTerminal {
				if col, ok := levelColor[lvl]; ok {
					col.Fprint(l.console, line)
					return
				}
			}
			fmt.Fprint(l.console, line)
		}
	}
}

func (l *Logger) Debugf(format string, args ...any)    { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)     { l.log(Info, format, args...) }
func (l *Logger) Warningf(format string, args ...any)  { l.log(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...any)    { l.log(Error, format, args...) }
func (l *Logger) Criticalf(format string, args ...any) { l.log(Critical, format, args...) }

// Setup creates the operational and debug log files under base (the
// spec's fixed /var/orchestrator directory) and returns a Logger that
// fans lines out to both, plus a colorized console mirror when console
// is a terminal. level gates what reaches the debug log and the
// console; the operational log always receives INFO and above
// regardless of level.
func Setup(base string, level Level, console io.Writer, isTerminal bool) (*Logger, func() error, error) {
	opWriter, err := NewDailyRotatingWriter(filepath.Join(base, "logs"), "orchestrator-logs")
	if err != nil {
		return nil, nil, err
	}
	dbgWriter, err := NewDailyRotatingWriter(filepath.Join(base, "debug"), "orchestrator-debug")
	if err != nil {
		opWriter.Close()
		return nil, nil, err
	}

	l := &Logger{
		level:      level,
		opLog:      log.New(opWriter, "", log.LstdFlags|log.Lmicroseconds),
		dbgLog:     log.New(dbgWriter, "", log.LstdFlags|log.Lmicroseconds),
		console:    console,
		isTerminal: isTerminal,
	}

	closeFn := func() error {
		err1 := opWriter.Close()
		err2 := dbgWriter.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	return l, closeFn, nil
}
