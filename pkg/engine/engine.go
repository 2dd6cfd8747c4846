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

// Package engine abstracts the host container engine behind a narrow
// capability interface, so the lifecycle engine never depends on the
// Docker SDK directly.
package engine

import (
	"context"
	"io"
	"net/http"
	"time"
)

// EndpointConfig is the subset of a network attachment's configuration
// that callers may specify; runtime-assigned fields (the gateway and
// assigned IP Docker reports back after connecting) are never inputs.
type EndpointConfig struct {
	IPAddress  string
	MACAddress string
	Aliases    []string
}

// NetworkOptions describes a network to create.
type NetworkOptions struct {
	Driver   string // "bridge" for internal networks, "macvlan" for attachments
	Parent   string // host parent interface, macvlan only
	Subnet   string // CIDR
	Gateway  string
	Internal bool // true for per-container control-plane bridges
}

// Network is an engine-level network as reported by NetworkList.
type Network struct {
	ID      string
	Name    string
	Driver  string
	Parent  string
	Subnet  string
	Gateway string
}

// Attachment is one network a container is currently connected to.
type Attachment struct {
	NetworkID  string
	IPAddress  string
	MACAddress string
}

// ContainerInfo is a snapshot of a container's current engine-side
// state.
type ContainerInfo struct {
	ID          string
	Running     bool
	Image       string
	Attachments map[string]Attachment // network name -> attachment
}

// ContainerEngine is the capability surface the lifecycle engine needs
// from the host's container runtime. A single implementation
// (dockerEngine) backs it in production; tests substitute a fake.
type ContainerEngine interface {
	// Pull retrieves ref into the local image store. dockerEngine makes
	// one attempt and returns its error as is; retrying is left to the
	// caller (the lifecycle engine retries once before falling back to a
	// local image).
	Pull(ctx context.Context, ref string) error

	// HasLocalImage reports whether ref (or an equivalent tag/digest)
	// is already present locally, used for the pull-failure fallback.
	HasLocalImage(ctx context.Context, ref string) (bool, error)

	// Create makes a container named name from image, with restart
	// policy "always", connected to no networks. It does not start
	// network attachment; callers connect separately so the first
	// connected network can be the internal one.
	Create(ctx context.Context, name, image string) (containerID string, err error)

	// Remove stops (if running) and removes the container named name.
	// Removing an absent container is not an error.
	Remove(ctx context.Context, name string) error

	// Inspect returns the current engine-side state of name.
	Inspect(ctx context.Context, name string) (ContainerInfo, error)

	// NetworkCreate makes a network named name per opts. dockerEngine
	// returns the engine's error when the create fails, including when a
	// network of that name already exists.
	NetworkCreate(ctx context.Context, name string, opts NetworkOptions) (networkID string, err error)

	// NetworkRemove deletes the network named name. Removing an absent
	// network is not an error.
	NetworkRemove(ctx context.Context, name string) error

	// NetworkList enumerates every engine-level network.
	NetworkList(ctx context.Context) ([]Network, error)

	// NetworkConnect attaches containerName to networkName with the
	// given endpoint configuration.
	NetworkConnect(ctx context.Context, networkName, containerName string, ep EndpointConfig) error

	// NetworkDisconnect detaches containerName from networkName. Force
	// disconnects even if the engine reports the container as using
	// the network for an in-flight operation.
	NetworkDisconnect(ctx context.Context, networkName, containerName string, force bool) error

	// ExecRunHTTPProxy issues an HTTPS request to the runtime container
	// at internalIP:8443, used by the run_command dispatcher handler.
	// TLS verification is intentionally disabled: runtime containers
	// carry self-signed certificates no CA here can validate.
	ExecRunHTTPProxy(ctx context.Context, internalIP, path string, body io.Reader) (*http.Response, error)
}

// DefaultCallTimeout bounds every engine call: NewDockerEngine wraps the
// Docker engine with WithTimeout at this bound, so each call (other than
// ExecRunHTTPProxy) runs under its own 30s deadline.
const DefaultCallTimeout = 30 * time.Second
