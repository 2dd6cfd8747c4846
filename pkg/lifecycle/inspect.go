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
	"sort"

	"github.com/edgehost/orchestrator/pkg/errkind"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// AttachmentStatus is one network a container is currently connected
// to, as observed on the engine.
type AttachmentStatus struct {
	Network    string
	IPAddress  string
	MACAddress string
}

// InspectResult is a point-in-time snapshot of a managed container.
type InspectResult struct {
	Present     bool
	Running     bool
	State       registry.LifecycleState
	InternalIP  string
	Attachments []AttachmentStatus
	Audit       []AuditEntry
}

// InspectDevice reports presence, engine state, and network
// attachments for a managed container. A container absent from the
// registry returns InspectResult{Present: false} and no error.
func (e *Engine) InspectDevice(ctx context.Context, name string) (InspectResult, error) {
	c, ok := e.reg.Get(name)
	if !ok {
		return InspectResult{Present: false}, nil
	}

	result := InspectResult{Present: true, State: c.State, Audit: e.audit.For(name)}

	info, err := e.containers.Inspect(ctx, name)
	if err != nil {
		return result, errkind.New(errkind.EngineError, "inspect_device", err)
	}
	result.Running = info.Running

	internalName := internalNetworkName(name)
	for netName, att := range info.Attachments {
		if netName == internalName {
			result.InternalIP = att.IPAddress
			continue
		}
		result.Attachments = append(result.Attachments, AttachmentStatus{
			Network:    netName,
			IPAddress:  att.IPAddress,
			MACAddress: att.MACAddress,
		})
	}
	sort.Slice(result.Attachments, func(i, j int) bool { return result.Attachments[i].Network < result.Attachments[j].Network })

	return result, nil
}
