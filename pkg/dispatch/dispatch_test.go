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

package dispatch

import (
	"context"
	"testing"

	"github.com/edgehost/orchestrator/pkg/contract"
	"github.com/edgehost/orchestrator/pkg/errkind"
)

func TestDispatchUnknownTopic(t *testing.T) {
	d := New()
	reply := d.Dispatch(context.Background(), "no_such_topic", map[string]any{"correlation_id": float64(7)})
	if reply["status"] != "error" || reply["error"] != string(errkind.UnknownTopic) {
		t.Errorf("reply = %v, want unknown_topic error", reply)
	}
	if reply["correlation_id"] != float64(7) {
		t.Errorf("correlation_id = %v, want 7", reply["correlation_id"])
	}
}

func TestDispatchValidationError(t *testing.T) {
	d := New()
	d.Handle("delete_device", contract.BaseDevice, func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		t.Fatal("handler should not run on validation failure")
		return "", nil, nil
	})

	reply := d.Dispatch(context.Background(), "delete_device", map[string]any{"correlation_id": float64(1)})
	if reply["status"] != "error" || reply["error"] != string(errkind.ValidationError) {
		t.Errorf("reply = %v, want validation_error", reply)
	}
	if reply["field"] != "device_id" {
		t.Errorf("field = %v, want device_id", reply["field"])
	}
}

func TestDispatchSuccess(t *testing.T) {
	d := New()
	d.Handle("delete_device", contract.BaseDevice, func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		return "success", map[string]any{"container_id": msg.Fields["device_id"]}, nil
	})

	reply := d.Dispatch(context.Background(), "delete_device", map[string]any{
		"correlation_id": float64(42),
		"device_id":      "plc-001",
	})
	if reply["status"] != "success" {
		t.Errorf("status = %v, want success", reply["status"])
	}
	if reply["container_id"] != "plc-001" {
		t.Errorf("container_id = %v, want plc-001", reply["container_id"])
	}
	if reply["action"] != "delete_device" {
		t.Errorf("action = %v, want delete_device", reply["action"])
	}
}

func TestDispatchHandlerErrorKind(t *testing.T) {
	d := New()
	d.Handle("delete_device", contract.BaseDevice, func(ctx context.Context, msg *contract.Result) (string, map[string]any, error) {
		return "", nil, errkind.New(errkind.Busy, "delete_device", nil)
	})

	reply := d.Dispatch(context.Background(), "delete_device", map[string]any{
		"correlation_id": float64(1),
		"device_id":      "plc-001",
	})
	if reply["status"] != "error" || reply["error"] != string(errkind.Busy) {
		t.Errorf("reply = %v, want busy error", reply)
	}
}

func TestTopicsListsRegistrations(t *testing.T) {
	d := New()
	d.Handle("a", contract.BaseMessage, nil)
	d.Handle("b", contract.BaseMessage, nil)
	topics := d.Topics()
	if len(topics) != 2 {
		t.Fatalf("Topics() = %v, want 2 entries", topics)
	}
}
