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
	"log"

	"github.com/edgehost/orchestrator/pkg/engine"
	"github.com/edgehost/orchestrator/pkg/errkind"
	"github.com/edgehost/orchestrator/pkg/opstate"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// CreateAck is the immediate reply to create_runtime, sent as soon as
// the operation slot is acquired; the remainder of the work continues
// in the background.
type CreateAck struct {
	Status      string
	ContainerID string
}

// CreateRuntime begins creating a managed container. If name already
// has an operation in flight, it returns errkind.ErrBusy synchronously
// and does nothing else. If name already exists as a fully registered
// container, this call is a no-op that returns its existing descriptor
// as an ack (create_runtime is idempotent).
//
// Otherwise it acquires the `creating` slot, acknowledges immediately,
// and continues steps 2-10 of the create contract in a background
// goroutine; the terminal outcome is recorded to the audit log and to
// the registry, not returned to this call's caller.
func (e *Engine) CreateRuntime(ctx context.Context, name, imageRef string, vnics []registry.VNIC) (CreateAck, error) {
	if c, ok := e.reg.Get(name); ok && c.State == registry.StateRunning && e.ops.State(name) == opstate.Idle {
		return CreateAck{Status: "creating", ContainerID: name}, nil
	}

	type ack struct{ err error }
	ackCh := make(chan ack, 1)

	go func() {
		bgErr := e.ops.Begin(name, opstate.Creating, func() error {
			ackCh <- ack{}
			return e.runCreate(ctx, name, imageRef, vnics)
		})
		if bgErr == nil {
			return
		}
		if kind, ok := errkind.KindOf(bgErr); ok && kind == errkind.Busy {
			ackCh <- ack{err: bgErr}
			return
		}
		log.Printf("lifecycle: create_runtime %s failed: %v", name, bgErr)
		e.audit.Append(AuditEntry{Container: name, Operation: "create_runtime", Outcome: errString(bgErr), Detail: bgErr.Error()})
	}()

	res := <-ackCh
	if res.err != nil {
		return CreateAck{}, res.err
	}
	return CreateAck{Status: "creating", ContainerID: name}, nil
}

func (e *Engine) runCreate(ctx context.Context, name, imageRef string, vnics []registry.VNIC) error {
	if err := e.reg.Put(registry.Container{Name: name, Image: imageRef, VNICs: vnics, State: registry.StateCreating}); err != nil {
		return errkind.New(errkind.RegistryError, "create_runtime", err)
	}

	if err := e.pullOrFallback(ctx, imageRef); err != nil {
		return err
	}

	if _, err := e.ensureInternalNetwork(ctx, name); err != nil {
		return err
	}

	resolved := make([]registry.VNIC, len(vnics))
	copy(resolved, vnics)
	for i := range resolved {
		subnet, gateway, err := e.resolveVNIC(resolved[i])
		if err != nil {
			return err
		}
		resolved[i].Subnet = subnet
		resolved[i].Gateway = gateway
	}

	seen := map[string]bool{}
	for _, v := range resolved {
		key := v.ParentInterface + "|" + v.Subnet
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := e.ensureAttachmentNetwork(ctx, v.ParentInterface, v.Subnet, v.Gateway); err != nil {
			return err
		}
	}

	if _, err := e.containers.Create(ctx, name, imageRef); err != nil {
		return errkind.New(errkind.EngineError, "create_runtime", err)
	}

	internalName := internalNetworkName(name)
	if err := e.containers.NetworkConnect(ctx, internalName, name, engine.EndpointConfig{}); err != nil {
		return errkind.New(errkind.EngineError, "create_runtime", err)
	}
	for _, v := range resolved {
		ep := engine.EndpointConfig{}
		if v.Mode == registry.ModeManual {
			ep.IPAddress = v.IPAddress
			ep.MACAddress = v.MACAddress
		}
		netName := attachmentNetworkName(v.ParentInterface, v.Subnet)
		if err := e.containers.NetworkConnect(ctx, netName, name, ep); err != nil {
			return errkind.New(errkind.EngineError, "create_runtime", err)
		}
	}

	if e.agentContainerName != "" {
		if err := e.containers.NetworkConnect(ctx, internalName, e.agentContainerName, engine.EndpointConfig{}); err != nil {
			return errkind.New(errkind.EngineError, "create_runtime", err)
		}
	}

	info, err := e.containers.Inspect(ctx, name)
	if err != nil {
		return errkind.New(errkind.EngineError, "create_runtime", err)
	}
	internalIP := info.Attachments[internalName].IPAddress

	c := registry.Container{Name: name, Image: imageRef, VNICs: resolved, State: registry.StateRunning, InternalIP: internalIP}
	if err := e.reg.Put(c); err != nil {
		return errkind.New(errkind.RegistryError, "create_runtime", err)
	}

	e.audit.Append(AuditEntry{Container: name, Operation: "create_runtime", Outcome: "success"})
	return nil
}

// pullOrFallback implements spec §7's "engine pulls are retried exactly
// once before falling back to a local tag."
func (e *Engine) pullOrFallback(ctx context.Context, ref string) error {
	var pullErr error
	for attempt := 0; attempt < 2; attempt++ {
		if pullErr = e.containers.Pull(ctx, ref); pullErr == nil {
			return nil
		}
	}
	ok, err := e.containers.HasLocalImage(ctx, ref)
	if err != nil {
		return errkind.New(errkind.ImageUnavailable, "create_runtime", err)
	}
	if !ok {
		return errkind.New(errkind.ImageUnavailable, "create_runtime", pullErr)
	}
	return nil
}

func errString(err error) string {
	if kind, ok := errkind.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}
