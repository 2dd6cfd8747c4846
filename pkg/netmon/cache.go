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

package netmon

import "sync"

// Cache is the in-memory interface table, replaced wholesale on a
// network_discovery event and updated entry-by-entry on network_change.
// C7 is its only writer; the reconfiguration loop and the lifecycle
// engine are read-only consumers.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Interface
}

// NewCache returns an empty interface cache.
func NewCache() *Cache {
	return &Cache{entries: map[string]Interface{}}
}

// ReplaceAll atomically swaps the entire cache contents, used on
// network_discovery and on reconnect re-discovery.
func (c *Cache) ReplaceAll(ifaces []Interface) {
	next := make(map[string]Interface, len(ifaces))
	for _, i := range ifaces {
		next[i.Name] = i
	}
	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
}

// Update applies a single network_change event to the matching entry,
// inserting it if it wasn't previously known.
func (c *Cache) Update(i Interface) {
	c.mu.Lock()
	c.entries[i.Name] = i
	c.mu.Unlock()
}

// Lookup returns the cached state for name if it exists, is eligible
// (UP with an IPv4 address), and isn't a diagnostic-only interface
// (loopback, engine bridge, veth). Callers resolving a vNIC's parent
// interface use this, never the raw entry.
func (c *Cache) Lookup(name string) (Interface, bool) {
	if diagnosticOnly(name) {
		return Interface{}, false
	}
	c.mu.RLock()
	i, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok || !i.eligible() {
		return Interface{}, false
	}
	return i, true
}

// Snapshot returns every cached interface, including diagnostic-only
// and ineligible ones, in no particular order.
func (c *Cache) Snapshot() []Interface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Interface, 0, len(c.entries))
	for _, i := range c.entries {
		out = append(out, i)
	}
	return out
}
