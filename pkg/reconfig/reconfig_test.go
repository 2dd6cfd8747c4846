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

package reconfig

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRegistry struct {
	containers []Container
}

func (f *fakeRegistry) Snapshot() []Container { return f.containers }

type fakeReconfigurer struct {
	mu    sync.Mutex
	calls []string // "name/iface"
}

func (f *fakeReconfigurer) ReconfigureAttachment(ctx context.Context, name, changedInterface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+"/"+changedInterface)
	return nil
}

func (f *fakeReconfigurer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeReconfigurer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestLoop(reg RegistrySnapshot, engine Reconfigurer) *Loop {
	l := New(reg, engine)
	l.window = 20 * time.Millisecond
	return l
}

func TestRapidChangesToSameInterfaceDebounce(t *testing.T) {
	reg := &fakeRegistry{containers: []Container{
		{Name: "plc-1", VNICs: []VNIC{{ParentInterface: "eth0"}}},
	}}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx, changes)

	for i := 0; i < 5; i++ {
		changes <- "eth0"
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()

	if got := engine.callCount(); got != 1 {
		t.Errorf("callCount = %d, want 1 (debounced)", got)
	}
}

func TestDifferentInterfacesFanOutIndependently(t *testing.T) {
	reg := &fakeRegistry{containers: []Container{
		{Name: "plc-1", VNICs: []VNIC{{ParentInterface: "eth0"}}},
		{Name: "plc-2", VNICs: []VNIC{{ParentInterface: "eth1"}}},
	}}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, changes)

	changes <- "eth0"
	changes <- "eth1"

	time.Sleep(100 * time.Millisecond)

	calls := engine.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want 2 entries", calls)
	}
	want := map[string]bool{"plc-1/eth0": true, "plc-2/eth1": true}
	for _, c := range calls {
		if !want[c] {
			t.Errorf("unexpected call %q", c)
		}
	}
}

func TestOnlyMatchingParentInterfaceReconfigured(t *testing.T) {
	reg := &fakeRegistry{containers: []Container{
		{Name: "plc-1", VNICs: []VNIC{{ParentInterface: "eth0"}}},
		{Name: "plc-2", VNICs: []VNIC{{ParentInterface: "eth1"}}},
		{Name: "plc-3", VNICs: []VNIC{{ParentInterface: "eth0"}, {ParentInterface: "eth2"}}},
	}}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, changes)

	changes <- "eth0"
	time.Sleep(100 * time.Millisecond)

	calls := engine.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want 2 entries (plc-1, plc-3 only)", calls)
	}
	want := map[string]bool{"plc-1/eth0": true, "plc-3/eth0": true}
	for _, c := range calls {
		if !want[c] {
			t.Errorf("unexpected call %q", c)
		}
	}
}

func TestNoContainersAffectedIsANoop(t *testing.T) {
	reg := &fakeRegistry{containers: []Container{
		{Name: "plc-1", VNICs: []VNIC{{ParentInterface: "eth1"}}},
	}}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, changes)

	changes <- "eth0"
	time.Sleep(100 * time.Millisecond)

	if got := engine.callCount(); got != 0 {
		t.Errorf("callCount = %d, want 0", got)
	}
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	reg := &fakeRegistry{}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, changes)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunStopsCleanlyOnChannelClose(t *testing.T) {
	reg := &fakeRegistry{}
	engine := &fakeReconfigurer{}
	l := newTestLoop(reg, engine)

	changes := make(chan string)
	done := make(chan struct{})
	go func() {
		l.Run(context.Background(), changes)
		close(done)
	}()

	close(changes)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}
