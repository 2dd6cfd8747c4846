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
	"github.com/edgehost/orchestrator/pkg/opstate"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// ReconfigureAttachment re-homes every vNIC of name that's parented on
// changedInterface onto that interface's current subnet, called by the
// reconfiguration loop (C8) after its debounce window fires. A manual
// vNIC's ip_address and mac_address are preserved verbatim across the
// move, even if the new subnet makes that IP invalid: the operator is
// responsible for reconciling a stale static address.
//
// A partial failure here is recorded to the audit log and left for the
// next debounced change on this interface to retry; it is never retried
// on a timer.
func (e *Engine) ReconfigureAttachment(ctx context.Context, name, changedInterface string) error {
	err := e.ops.Begin(name, opstate.Reconfiguring, func() error {
		return e.runReconfigure(ctx, name, changedInterface)
	})
	if err != nil {
		e.audit.Append(AuditEntry{Container: name, Operation: "reconfigure_attachment", Outcome: errString(err), Detail: err.Error()})
		return err
	}
	return nil
}

func (e *Engine) runReconfigure(ctx context.Context, name, changedInterface string) error {
	c, ok := e.reg.Get(name)
	if !ok {
		return nil // no longer managed; nothing to reconfigure
	}

	iface, ok := e.ifaces.Lookup(changedInterface)
	if !ok {
		return errkind.New(errkind.NetworkUnresolvable, "reconfigure_attachment",
			fmt.Errorf("interface %q not in cache", changedInterface))
	}
	newSubnet, newGateway := iface.Subnet(), iface.Gateway
	if newSubnet == "" || newGateway == "" {
		return errkind.New(errkind.NetworkUnresolvable, "reconfigure_attachment",
			fmt.Errorf("interface %q has no usable subnet/gateway", changedInterface))
	}

	changed := false
	for i := range c.VNICs {
		v := &c.VNICs[i]
		if v.ParentInterface != changedInterface {
			continue
		}
		if v.Subnet == newSubnet {
			continue // already on the current subnet; nothing to do
		}

		oldNetwork := attachmentNetworkName(v.ParentInterface, v.Subnet)
		if err := e.containers.NetworkDisconnect(ctx, oldNetwork, name, true); err != nil {
			return errkind.New(errkind.EngineError, "reconfigure_attachment", err)
		}

		if _, err := e.ensureAttachmentNetwork(ctx, v.ParentInterface, newSubnet, newGateway); err != nil {
			return err
		}

		ep := engine.EndpointConfig{}
		if v.Mode == registry.ModeManual {
			ep.IPAddress = v.IPAddress
			ep.MACAddress = v.MACAddress
		}
		newNetwork := attachmentNetworkName(v.ParentInterface, newSubnet)
		if err := e.containers.NetworkConnect(ctx, newNetwork, name, ep); err != nil {
			return errkind.New(errkind.EngineError, "reconfigure_attachment", err)
		}

		v.Subnet = newSubnet
		v.Gateway = newGateway
		changed = true
	}

	if !changed {
		return nil
	}
	if err := e.reg.Put(c); err != nil {
		return errkind.New(errkind.RegistryError, "reconfigure_attachment", err)
	}
	e.audit.Append(AuditEntry{Container: name, Operation: "reconfigure_attachment", Outcome: "success"})
	return nil
}
