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

// Package lifecycle is the container lifecycle engine: the sole
// component that creates, deletes, inspects, and reconfigures the
// network attachments of managed runtime containers. It composes
// pkg/engine (the container runtime), pkg/registry (persisted state),
// pkg/opstate (per-name serialization), and an interface resolver for
// the host's live network state.
package lifecycle

import (
	"strings"

	"github.com/edgehost/orchestrator/pkg/engine"
	"github.com/edgehost/orchestrator/pkg/netmon"
	"github.com/edgehost/orchestrator/pkg/opstate"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// InterfaceResolver looks up a host interface's current state. Satisfied
// by *netmon.Cache in production; tests substitute a fixed map.
type InterfaceResolver interface {
	Lookup(name string) (netmon.Interface, bool)
}

// Engine is the lifecycle engine (C6). All of its exported methods are
// safe for concurrent use; per-container mutual exclusion is enforced
// internally via the operation tracker.
type Engine struct {
	containers engine.ContainerEngine
	reg        *registry.Registry
	ops        *opstate.Tracker
	ifaces     InterfaceResolver
	audit      *AuditLog

	// agentContainerName is this agent's own container name; create_runtime
	// connects it to each runtime's internal network for control-plane
	// access, per spec's invariant that the agent is attached to every
	// running container's internal network.
	agentContainerName string
}

// New builds a lifecycle engine. agentContainerName is this agent's own
// container name on the engine (used to satisfy the "agent attached to
// every running container's internal network" invariant).
func New(containers engine.ContainerEngine, reg *registry.Registry, ops *opstate.Tracker, ifaces InterfaceResolver, agentContainerName string) *Engine {
	return &Engine{
		containers:         containers,
		reg:                reg,
		ops:                ops,
		ifaces:             ifaces,
		audit:              NewAuditLog(200),
		agentContainerName: agentContainerName,
	}
}

// Audit returns the engine's bounded outcome ring, consulted by
// inspect_device and get_consumption_device.
func (e *Engine) Audit() *AuditLog { return e.audit }

func internalNetworkName(containerName string) string {
	return containerName + "_internal"
}

// subnetSlug canonicalizes a CIDR subnet into a network-name-safe
// fragment. Only '/' is replaced; dots are kept, matching the literal
// macvlan_ens37_192.168.1.0_24 naming in the acceptance scenarios.
func subnetSlug(subnet string) string {
	return strings.ReplaceAll(subnet, "/", "_")
}

func attachmentNetworkName(parentInterface, subnet string) string {
	return "macvlan_" + parentInterface + "_" + subnetSlug(subnet)
}

func isPoolOverlap(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "overlap")
}
