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

	"github.com/edgehost/orchestrator/pkg/errkind"
	"github.com/edgehost/orchestrator/pkg/opstate"
)

// DeleteResult reports the outcome of delete_device.
type DeleteResult struct {
	AlreadyAbsent bool
}

// DeleteDevice removes a managed container: the container itself, its
// internal bridge, and any attachment network no longer used by
// another container. Missing the container entirely is success, not
// an error (idempotent delete).
func (e *Engine) DeleteDevice(ctx context.Context, name string) (DeleteResult, error) {
	var result DeleteResult
	err := e.ops.Begin(name, opstate.Deleting, func() error {
		c, ok := e.reg.Get(name)
		if !ok {
			result = DeleteResult{AlreadyAbsent: true}
			return nil
		}

		if err := e.containers.Remove(ctx, name); err != nil {
			return errkind.New(errkind.EngineError, "delete_device", err)
		}
		if err := e.containers.NetworkRemove(ctx, internalNetworkName(name)); err != nil {
			return errkind.New(errkind.EngineError, "delete_device", err)
		}

		for _, netName := range attachmentNetworksOf(c.VNICs) {
			inUse, err := e.networkStillInUse(ctx, netName, name)
			if err != nil {
				return err
			}
			if inUse {
				continue
			}
			if err := e.containers.NetworkRemove(ctx, netName); err != nil {
				return errkind.New(errkind.EngineError, "delete_device", err)
			}
		}

		if err := e.reg.Remove(name); err != nil {
			return errkind.New(errkind.RegistryError, "delete_device", err)
		}
		return nil
	})
	if err != nil {
		e.audit.Append(AuditEntry{Container: name, Operation: "delete_device", Outcome: errString(err), Detail: err.Error()})
		return DeleteResult{}, err
	}
	if !result.AlreadyAbsent {
		e.audit.Append(AuditEntry{Container: name, Operation: "delete_device", Outcome: "success"})
	}
	return result, nil
}
