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

package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"DEBUG": Debug, "debug": Debug,
		"":      Info, "INFO": Info,
		"WARNING": Warning, "ERROR": Error, "CRITICAL": Critical,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Error("ParseLevel(bogus): want error, got nil")
	}
}

func TestDailyRotatingWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyRotatingWriter(dir, "test-logs")
	if err != nil {
		t.Fatalf("NewDailyRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ReadDir: %d entries, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file contents = %q, want %q", data, "hello\n")
	}
}

func TestSetupWritesToBothLogs(t *testing.T) {
	base := t.TempDir()
	logger, closeFn, err := Setup(base, Debug, nil, false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closeFn()

	logger.Infof("startup complete")
	logger.Debugf("low-level detail")

	opEntries, err := os.ReadDir(filepath.Join(base, "logs"))
	if err != nil || len(opEntries) != 1 {
		t.Fatalf("operational log dir: entries=%v err=%v", opEntries, err)
	}
	dbgEntries, err := os.ReadDir(filepath.Join(base, "debug"))
	if err != nil || len(dbgEntries) != 1 {
		t.Fatalf("debug log dir: entries=%v err=%v", dbgEntries, err)
	}
}

func TestSetupDebugLogExcludesLinesBelowLevel(t *testing.T) {
	base := t.TempDir()
	logger, closeFn, err := Setup(base, Warning, nil, false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closeFn()

	logger.Infof("this reaches the operational log")
	logger.Debugf("this should not reach the debug log at Warning threshold")

	dbgEntries, err := os.ReadDir(filepath.Join(base, "debug"))
	if err != nil {
		t.Fatalf("ReadDir debug: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(base, "debug", dbgEntries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("debug log at Warning threshold = %q, want empty (Info/Debug below threshold)", data)
	}
}
