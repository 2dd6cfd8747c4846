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

// Package registry is the authoritative, persisted map of managed
// containers and their vNIC configurations. It mirrors an in-memory map
// to a JSON file, atomically, and survives process restarts.
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tailscale.com/util/mak"
)

// CurrentDataVersion is the schema version new documents are written at.
// Bump it and add a migrator whenever Data's shape changes.
const CurrentDataVersion = 1

// VNICMode is a vNIC's addressing mode.
type VNICMode string

const (
	ModeDHCP   VNICMode = "dhcp"
	ModeManual VNICMode = "manual"
)

// VNIC is the persisted intent for one of a container's virtual network
// interfaces.
type VNIC struct {
	Name            string   `json:"name"`
	ParentInterface string   `json:"parent_interface"`
	Mode            VNICMode `json:"mode"`
	ParentSubnet    string   `json:"parent_subnet,omitempty"`
	ParentGateway   string   `json:"parent_gateway,omitempty"`
	IPAddress       string   `json:"ip_address,omitempty"`
	Subnet          string   `json:"subnet,omitempty"`
	Gateway         string   `json:"gateway,omitempty"`
	DNS             []string `json:"dns,omitempty"`
	MACAddress      string   `json:"mac_address,omitempty"`
}

// LifecycleState is a managed container's position in its lifecycle.
type LifecycleState string

const (
	StateCreating LifecycleState = "creating"
	StateRunning  LifecycleState = "running"
	StateDeleting LifecycleState = "deleting"
	StateOrphan   LifecycleState = "orphan"
)

// Container is a managed runtime container: its name, its ordered vNIC
// list, its lifecycle state, and the internal IP it was last observed to
// hold on its `{name}_internal` bridge.
type Container struct {
	Name       string         `json:"name"`
	Image      string         `json:"image,omitempty"`
	VNICs      []VNIC         `json:"vnics"`
	State      LifecycleState `json:"state"`
	InternalIP string         `json:"internal_ip,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Data is the on-disk document. Version is checked on load and migrated
// forward to CurrentDataVersion before any caller sees it.
type Data struct {
	Version    int                   `json:"version"`
	Containers map[string]*Container `json:"containers"`
}

// Registry guards a Data document with a mutex and persists every
// mutation to path, atomically, before returning.
type Registry struct {
	path string

	mu   sync.Mutex
	data *Data
}

// Open loads path if it exists, migrating forward as needed, or starts a
// fresh document at CurrentDataVersion if it does not. A file that
// exists but cannot be parsed is quarantined (renamed aside) rather than
// treated as fatal, per spec: the agent starts with an empty registry
// and a warning rather than refusing to come up.
func Open(path string) (*Registry, error) {
	data, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Registry{path: path, data: data}, nil
}

func load(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyData(), nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		quarantinePath := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, quarantinePath); rerr != nil {
			return nil, fmt.Errorf("registry: parse %s failed (%v), and quarantine rename failed: %w", path, err, rerr)
		}
		log.Printf("registry: %s was corrupt, quarantined to %s, starting empty: %v", path, quarantinePath, err)
		return emptyData(), nil
	}
	if d.Containers == nil {
		d.Containers = map[string]*Container{}
	}
	if err := migrate(&d); err != nil {
		return nil, fmt.Errorf("registry: migrate %s: %w", path, err)
	}
	return &d, nil
}

func emptyData() *Data {
	return &Data{Version: CurrentDataVersion, Containers: map[string]*Container{}}
}

// Get returns a copy of the container named name, or false if it isn't
// registered.
func (r *Registry) Get(name string) (Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data.Containers[name]
	if !ok {
		return Container{}, false
	}
	return *c, true
}

// Snapshot returns a copy of every registered container, in stable
// (name-sorted) order, safe to range over during background
// reconciliation without holding the registry lock.
func (r *Registry) Snapshot() []Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Container, 0, len(r.data.Containers))
	for _, c := range r.data.Containers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put inserts or replaces the container named c.Name and persists the
// document before returning.
func (r *Registry) Put(c Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.UpdatedAt = time.Now()
	if existing, ok := r.data.Containers[c.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = c.UpdatedAt
	}
	mak.Set(&r.data.Containers, c.Name, &c)
	return r.persistLocked()
}

// Remove deletes the container named name and persists the document. It
// is not an error to remove a name that doesn't exist.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data.Containers, name)
	return r.persistLocked()
}

// SetState updates the lifecycle state of an already-registered
// container.
func (r *Registry) SetState(name string, state LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data.Containers[name]
	if !ok {
		return fmt.Errorf("registry: container %q not found", name)
	}
	c.State = state
	c.UpdatedAt = time.Now()
	return r.persistLocked()
}

// SetInternalIP records the IP a container last presented on its
// `{name}_internal` bridge, consulted by the run_command HTTP proxy.
func (r *Registry) SetInternalIP(name, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data.Containers[name]
	if !ok {
		return fmt.Errorf("registry: container %q not found", name)
	}
	c.InternalIP = ip
	c.UpdatedAt = time.Now()
	return r.persistLocked()
}

// persistLocked writes r.data to r.path via a temp file in the same
// directory followed by rename, so a crash mid-write never leaves a
// truncated document in place. Callers must hold r.mu.
func (r *Registry) persistLocked() error {
	r.data.Version = CurrentDataVersion

	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("registry: rename into place: %w", err)
	}
	return nil
}
