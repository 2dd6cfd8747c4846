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

package lifecycle

import (
	"context"
	"fmt"

	"github.com/edgehost/orchestrator/pkg/engine"
	"github.com/edgehost/orchestrator/pkg/errkind"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// ensureInternalNetwork get-or-creates the per-container control-plane
// bridge, idempotent by name.
func (e *Engine) ensureInternalNetwork(ctx context.Context, containerName string) (string, error) {
	name := internalNetworkName(containerName)
	nets, err := e.containers.NetworkList(ctx)
	if err != nil {
		return "", errkind.New(errkind.EngineError, "ensure_internal_network", err)
	}
	for _, n := range nets {
		if n.Name == name {
			return n.ID, nil
		}
	}
	id, err := e.containers.NetworkCreate(ctx, name, engine.NetworkOptions{Driver: "bridge"})
	if err != nil {
		return "", errkind.New(errkind.EngineError, "ensure_internal_network", err)
	}
	return id, nil
}

// ensureAttachmentNetwork get-or-creates the macvlan network for
// (parentInterface, subnet). On an engine "pool overlaps" error it
// scans existing networks for one already bound to the same parent and
// subnet and reuses it; any other error, or no matching reuse
// candidate, is a hard failure.
func (e *Engine) ensureAttachmentNetwork(ctx context.Context, parentInterface, subnet, gateway string) (string, error) {
	name := attachmentNetworkName(parentInterface, subnet)

	nets, err := e.containers.NetworkList(ctx)
	if err != nil {
		return "", errkind.New(errkind.EngineError, "ensure_attachment_network", err)
	}
	for _, n := range nets {
		if n.Name == name {
			return n.ID, nil
		}
	}

	id, createErr := e.containers.NetworkCreate(ctx, name, engine.NetworkOptions{
		Driver:  "macvlan",
		Parent:  parentInterface,
		Subnet:  subnet,
		Gateway: gateway,
	})
	if createErr == nil {
		return id, nil
	}
	if !isPoolOverlap(createErr) {
		return "", errkind.New(errkind.EngineError, "ensure_attachment_network", createErr)
	}

	for _, n := range nets {
		if n.Parent == parentInterface && n.Subnet == subnet {
			return n.ID, nil
		}
	}
	return "", errkind.New(errkind.NetworkOverlapUnresolved, "ensure_attachment_network", createErr)
}

// resolveVNIC determines the subnet/gateway a vNIC should attach with:
// the values on v if present, else whatever the interface cache reports
// for v.ParentInterface.
func (e *Engine) resolveVNIC(v registry.VNIC) (subnet, gateway string, err error) {
	subnet, gateway = v.ParentSubnet, v.ParentGateway
	if subnet != "" && gateway != "" {
		return subnet, gateway, nil
	}

	iface, ok := e.ifaces.Lookup(v.ParentInterface)
	if !ok {
		return "", "", errkind.New(errkind.NetworkUnresolvable, "resolve_vnic",
			fmt.Errorf("interface %q not in cache and no explicit parent_subnet/parent_gateway on vnic %q", v.ParentInterface, v.Name))
	}
	if subnet == "" {
		subnet = iface.Subnet()
	}
	if gateway == "" {
		gateway = iface.Gateway
	}
	if subnet == "" || gateway == "" {
		return "", "", errkind.New(errkind.NetworkUnresolvable, "resolve_vnic",
			fmt.Errorf("interface %q has no usable subnet/gateway", v.ParentInterface))
	}
	return subnet, gateway, nil
}

// attachmentNetworksOf returns the distinct macvlan network names a
// container's vNIC list attaches to, in first-seen order.
func attachmentNetworksOf(vnics []registry.VNIC) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range vnics {
		if v.Subnet == "" {
			continue
		}
		name := attachmentNetworkName(v.ParentInterface, v.Subnet)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// networkStillInUse reports whether any container other than
// exceptName is still attached to netName, per the explicit
// reference-check this spec prescribes over relying on engine "in use"
// errors.
func (e *Engine) networkStillInUse(ctx context.Context, netName, exceptName string) (bool, error) {
	for _, c := range e.reg.Snapshot() {
		if c.Name == exceptName {
			continue
		}
		for _, n := range attachmentNetworksOf(c.VNICs) {
			if n == netName {
				return true, nil
			}
		}
	}
	return false, nil
}
