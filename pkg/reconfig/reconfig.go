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

// Package reconfig is the network reconfiguration loop (C8): it
// consumes per-interface change notifications from pkg/netmon, debounces
// them over a 3-second window, and fans the fired reconfigurations out
// to the lifecycle engine with bounded concurrency across containers
// while serializing reconfigurations of the same container through its
// own operation slot.
package reconfig

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/util/set"
)

// DebounceWindow is the per-interface coalescing window: if more than
// one change arrives for the same interface within the window, only the
// last is acted on.
const DebounceWindow = 3 * time.Second

// DefaultConcurrency bounds how many containers are reconfigured at
// once when a single interface change affects several, per spec §4.8
// step 3.
const DefaultConcurrency = 4

// RegistrySnapshot is the subset of *registry.Registry the loop needs:
// a stable-order view of every managed container, to find which ones a
// changed interface affects. Defined here (not imported from
// pkg/registry) to keep the dependency direction handler-ward; the
// supervisor wires the real *registry.Registry in.
type RegistrySnapshot interface {
	Snapshot() []Container
}

// Container is the minimal shape the loop needs from a registry entry.
type Container struct {
	Name  string
	VNICs []VNIC
}

// VNIC is the minimal shape the loop needs from a vNIC entry.
type VNIC struct {
	ParentInterface string
}

// Reconfigurer performs one container's reconfiguration against a
// changed parent interface. Satisfied by *lifecycle.Engine in
// production.
type Reconfigurer interface {
	ReconfigureAttachment(ctx context.Context, name, changedInterface string) error
}

// Loop consumes a channel of changed interface names and drives
// Reconfigurer.ReconfigureAttachment for every container that has a
// vNIC parented on the changed interface.
type Loop struct {
	reg         RegistrySnapshot
	engine      Reconfigurer
	concurrency int
	window      time.Duration

	mu     sync.Mutex
	timers set.HandleSet[*time.Timer]
	live   map[string]set.Handle // interface name -> its pending timer's handle
}

// New returns a Loop with the default debounce window and concurrency.
func New(reg RegistrySnapshot, engine Reconfigurer) *Loop {
	return &Loop{
		reg:         reg,
		engine:      engine,
		concurrency: DefaultConcurrency,
		window:      DebounceWindow,
		live:        map[string]set.Handle{},
	}
}

// Run consumes changes until ctx is canceled. On cancellation, any
// in-flight reconfiguration fan-out started before the cancellation is
// allowed to finish; no new debounce timer is armed afterward, per
// spec's graceful-shutdown contract.
func (l *Loop) Run(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			l.stopAllTimers()
			return
		case iface, ok := <-changes:
			if !ok {
				l.stopAllTimers()
				return
			}
			l.scheduleDebounced(iface)
		}
	}
}

// scheduleDebounced (re)arms the debounce timer for iface: if one is
// already pending, it's reset rather than left to fire twice, so only
// the most recent change in the window is ever acted on.
func (l *Loop) scheduleDebounced(iface string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.live[iface]; ok {
		if t, ok := l.timers[h]; ok {
			t.Stop()
		}
		delete(l.timers, h)
		delete(l.live, iface)
	}

	var handle set.Handle
	t := time.AfterFunc(l.window, func() {
		l.mu.Lock()
		delete(l.timers, handle)
		delete(l.live, iface)
		l.mu.Unlock()
		l.fire(iface)
	})
	handle = l.timers.Add(t)
	l.live[iface] = handle
}

func (l *Loop) stopAllTimers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.live = map[string]set.Handle{}
}

// fire reconfigures every container with a vNIC parented on iface,
// bounded to l.concurrency concurrent containers. It deliberately runs
// on a detached context rather than the receive loop's: per spec, a
// reconfiguration already in flight at shutdown is allowed to finish
// rather than being aborted. Per-container serialization against a
// concurrent create/delete is enforced by the lifecycle engine's own
// operation tracker, not here.
func (l *Loop) fire(iface string) {
	var affected []string
	for _, c := range l.reg.Snapshot() {
		for _, v := range c.VNICs {
			if v.ParentInterface == iface {
				affected = append(affected, c.Name)
				break
			}
		}
	}
	if len(affected) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(l.concurrency)
	for _, name := range affected {
		name := name
		g.Go(func() error {
			if err := l.engine.ReconfigureAttachment(gctx, name, iface); err != nil {
				log.Printf("reconfig: %s on %s: %v", name, iface, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
