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

// Package handlers wires every topic in spec §4.9's dispatch table to
// its backing subsystem: pkg/lifecycle for device lifecycle topics,
// pkg/metrics for consumption queries, and the session itself for the
// connect/disconnect lifecycle hooks. Registering it is the one place
// that needs to know about every subsystem at once; each handler body
// stays a thin adapter over an already-built operation.
package handlers

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/edgehost/orchestrator/pkg/contract"
	"github.com/edgehost/orchestrator/pkg/dispatch"
	"github.com/edgehost/orchestrator/pkg/errkind"
	"github.com/edgehost/orchestrator/pkg/lifecycle"
	"github.com/edgehost/orchestrator/pkg/metrics"
	"github.com/edgehost/orchestrator/pkg/registry"
)

// DefaultRuntimeImage is used when a create_new_runtime message omits
// the optional image reference, per spec.md §3's "optional initial
// image reference" on the managed container type.
const DefaultRuntimeImage = "vplc-runtime:latest"

// vnicConfig is one element of the inbound vnic_configs list.
var vnicConfig = contract.Schema{
	"name":             contract.String,
	"parent_interface": contract.String,
	"network_mode":     contract.String,
	"ip_address":       contract.Optional(contract.String),
	"subnet":           contract.Optional(contract.String),
	"gateway":          contract.Optional(contract.String),
	"mac_address":      contract.Optional(contract.String),
	"dns":              contract.Optional(contract.List(contract.String)),
}

var createNewRuntimeSchema = merge(contract.BaseMessage, contract.Schema{
	"container_name": contract.String,
	"image":          contract.Optional(contract.String),
	"vnic_configs":   contract.List(contract.Object(vnicConfig)),
})

var runCommandSchema = merge(contract.BaseDevice, contract.Schema{
	"path":    contract.String,
	"command": contract.Optional(contract.Object(contract.Schema{})),
})

var consumptionWindowSchema = merge(contract.BaseMessage, contract.Schema{
	"window_seconds": contract.Optional(contract.Number),
})

var deviceConsumptionSchema = merge(contract.BaseDevice, contract.Schema{
	"window_seconds": contract.Optional(contract.Number),
})

func merge(schemas ...contract.Schema) contract.Schema {
	out := contract.Schema{}
	for _, s := range schemas {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// SessionControl is the subset of *cloudsession.Session the connect and
// disconnect hooks need: starting/observing the emitter lives in the
// supervisor, which owns both the session and the emitter, so these
// hooks just delegate to callbacks it supplies.
type SessionControl struct {
	OnConnect    func(ctx context.Context)
	OnDisconnect func()
}

// Deps bundles every subsystem a handler needs. SelfContainerName names
// this agent's own container, used by delete_orchestrator to remove
// itself via the same engine the lifecycle engine already wraps.
type Deps struct {
	Lifecycle         *lifecycle.Engine
	Sampler           *metrics.Sampler
	Session           SessionControl
	SelfContainerName string
}

// Register binds every topic in spec §4.9's dispatch table to d.
func Register(d *dispatch.Dispatcher, deps Deps) {
	d.Handle("create_new_runtime", createNewRuntimeSchema, createNewRuntimeHandler(deps))
	d.Handle("delete_device", contract.BaseDevice, deleteDeviceHandler(deps))
	d.Handle("delete_orchestrator", contract.BaseMessage, deleteOrchestratorHandler(deps))
	d.Handle("run_command", runCommandSchema, runCommandHandler(deps))
	d.Handle("get_consumption_device", deviceConsumptionSchema, getConsumptionDeviceHandler(deps))
	d.Handle("get_consumption_orchestrator", consumptionWindowSchema, getConsumptionOrchestratorHandler(deps))
	d.Handle("connect", contract.BaseMessage, connectHandler(deps))
	d.Handle("disconnect", contract.BaseMessage, disconnectHandler(deps))
}

func createNewRuntimeHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		name, _ := msg.Fields["container_name"].(string)
		image, _ := msg.Fields["image"].(string)
		if image == "" {
			image = DefaultRuntimeImage
		}

		rawList, _ := msg.Fields["vnic_configs"].([]any)
		vnics := make([]registry.VNIC, 0, len(rawList))
		for _, raw := range rawList {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			vnics = append(vnics, vnicFromFields(m))
		}

		ack, err := deps.Lifecycle.CreateRuntime(ctx, name, image, vnics)
		if err != nil {
			return "", nil, err
		}
		return ack.Status, map[string]any{"container_id": ack.ContainerID}, nil
	}
}

func vnicFromFields(m map[string]any) registry.VNIC {
	v := registry.VNIC{
		Name:            str(m["name"]),
		ParentInterface: str(m["parent_interface"]),
		Mode:            registry.ModeDHCP,
		IPAddress:       str(m["ip_address"]),
		ParentSubnet:    str(m["subnet"]),
		ParentGateway:   str(m["gateway"]),
		MACAddress:      str(m["mac_address"]),
	}
	if strings.EqualFold(str(m["network_mode"]), string(registry.ModeManual)) {
		v.Mode = registry.ModeManual
	}
	if rawDNS, ok := m["dns"].([]any); ok {
		for _, d := range rawDNS {
			if s, ok := d.(string); ok {
				v.DNS = append(v.DNS, s)
			}
		}
	}
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func deleteDeviceHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		name, _ := msg.Fields["device_id"].(string)
		result, err := deps.Lifecycle.DeleteDevice(ctx, name)
		if err != nil {
			return "", nil, err
		}
		if result.AlreadyAbsent {
			return "already_absent", nil, nil
		}
		return "success", nil, nil
	}
}

// deleteOrchestratorHandler removes the agent's own container, the
// same way any other managed container is torn down: it reuses
// DeleteDevice against SelfContainerName rather than a bespoke code
// path, since self-removal has no different network cleanup rules.
func deleteOrchestratorHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		if deps.SelfContainerName == "" {
			return "", nil, errkind.New(errkind.EngineError, "delete_orchestrator", nil)
		}
		if _, err := deps.Lifecycle.DeleteDevice(ctx, deps.SelfContainerName); err != nil {
			return "", nil, err
		}
		return "success", nil, nil
	}
}

func runCommandHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		name, _ := msg.Fields["device_id"].(string)
		path, _ := msg.Fields["path"].(string)

		var body io.Reader
		if cmd, ok := msg.Fields["command"]; ok {
			body = strings.NewReader(toQuery(cmd))
		}

		resp, err := deps.Lifecycle.RunCommand(ctx, name, path, body)
		if err != nil {
			return "", nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", nil, errkind.New(errkind.EngineError, "run_command", err)
		}
		return "success", map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(raw),
		}, nil
	}
}

func toQuery(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	first := true
	for k, val := range m {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strFromAny(val))
	}
	return b.String()
}

func strFromAny(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

// getConsumptionDeviceHandler reports the host-level sample alongside
// the device's own presence/running state and recent audit history: no
// subsystem in this agent meters per-container CPU/memory separately
// from the host (the managed runtimes share the host's resources
// directly, not under a quota), so "aggregated per-container metrics"
// is reported as the host sample scoped by device status.
func getConsumptionDeviceHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		name, _ := msg.Fields["device_id"].(string)

		inspect, err := deps.Lifecycle.InspectDevice(ctx, name)
		if err != nil {
			return "", nil, err
		}
		sample, sampleErr := deps.Sampler.Sample()
		if sampleErr != nil {
			log.Printf("handlers: get_consumption_device %s: partial sample: %v", name, sampleErr)
		}

		return "success", map[string]any{
			"present":      inspect.Present,
			"running":      inspect.Running,
			"cpu_usage":    sample.CPUUsagePercent,
			"memory_usage": bytesToGB(sample.MemoryUsed),
			"memory_total": bytesToGB(sample.MemoryTotal),
			"disk_usage":   bytesToGB(sample.DiskUsed),
			"disk_total":   bytesToGB(sample.DiskTotal),
			"audit_count":  len(inspect.Audit),
		}, nil
	}
}

func getConsumptionOrchestratorHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		sample, err := deps.Sampler.Sample()
		if err != nil {
			log.Printf("handlers: get_consumption_orchestrator: partial sample: %v", err)
		}
		return "success", map[string]any{
			"cpu_usage":    sample.CPUUsagePercent,
			"memory_usage": bytesToGB(sample.MemoryUsed),
			"memory_total": bytesToGB(sample.MemoryTotal),
			"disk_usage":   bytesToGB(sample.DiskUsed),
			"disk_total":   bytesToGB(sample.DiskTotal),
			"uptime":       sample.Uptime.Seconds(),
		}, nil
	}
}

func connectHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		if deps.Session.OnConnect != nil {
			deps.Session.OnConnect(ctx)
		}
		return "success", nil, nil
	}
}

func disconnectHandler(deps Deps) dispatch.HandlerFunc {
	return func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		if deps.Session.OnDisconnect != nil {
			deps.Session.OnDisconnect()
		}
		return "success", nil, nil
	}
}

func bytesToGB(n uint64) float64 {
	return float64(n) / float64(1<<30)
}
