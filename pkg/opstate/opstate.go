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

// Package opstate serializes lifecycle operations on a single container
// name, so two in-flight cloud commands can never race on the same
// device. Operations on different names proceed fully concurrently.
package opstate

import (
	"fmt"
	"sync"

	"github.com/edgehost/orchestrator/pkg/errkind"
)

// State is the lifecycle state machine position for a device name.
type State string

const (
	Idle          State = "idle"
	Creating      State = "creating"
	Deleting      State = "deleting"
	Reconfiguring State = "reconfiguring"
)

// allowed lists which State an entry may leave Idle for; every
// operation returns to Idle on completion (success or failure).
var allowed = map[State]bool{
	Creating:      true,
	Deleting:      true,
	Reconfiguring: true,
}

// Tracker holds one State per device name, each independently lockable.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu    sync.Mutex
	state State
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: map[string]*entry{}}
}

func (t *Tracker) entryFor(name string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		e = &entry{state: Idle}
		t.entries[name] = e
	}
	return e
}

// State reports the current state of name, defaulting to Idle for names
// never seen before.
func (t *Tracker) State(name string) State {
	e := t.entryFor(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Begin transitions name from Idle to want, running fn while name stays
// in that state (the per-name lock is released before fn runs), and
// unconditionally returns name to Idle afterward. If
// name is not currently Idle, Begin returns errkind.ErrBusy without
// calling fn.
func (t *Tracker) Begin(name string, want State, fn func() error) error {
	if !allowed[want] {
		return fmt.Errorf("opstate: %q is not a valid in-flight state", want)
	}

	e := t.entryFor(name)
	e.mu.Lock()
	if e.state != Idle {
		current := e.state
		e.mu.Unlock()
		return errkind.New(errkind.Busy, "opstate.Begin",
			fmt.Errorf("device %q is %s", name, current))
	}
	e.state = want
	e.mu.Unlock()

	err := fn()

	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()

	return err
}
