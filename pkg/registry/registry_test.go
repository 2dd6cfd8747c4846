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

package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot on fresh registry = %v, want empty", got)
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	c := Container{
		Name:  "plc-001",
		State: StateRunning,
		VNICs: []VNIC{{Name: "eth0", ParentInterface: "ens37", Mode: ModeDHCP}},
	}
	if err := r.Put(c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := r.Get("plc-001")
	if !ok {
		t.Fatal("Get: container not found after Put")
	}
	if got.State != StateRunning || len(got.VNICs) != 1 {
		t.Errorf("Get = %+v, want State running with 1 vnic", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Put should stamp CreatedAt and UpdatedAt")
	}
	if diff := cmp.Diff(c.VNICs, got.VNICs); diff != "" {
		t.Errorf("VNICs roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestPutPreservesCreatedAtOnUpdate(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Put(Container{Name: "plc-001", State: StateCreating}); err != nil {
		t.Fatalf("Put (create): %v", err)
	}
	first, _ := r.Get("plc-001")

	if err := r.Put(Container{Name: "plc-001", State: StateRunning}); err != nil {
		t.Fatalf("Put (update): %v", err)
	}
	second, _ := r.Get("plc-001")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.State != StateRunning {
		t.Errorf("State = %q, want running", second.State)
	}
}

func TestRemoveDeletesContainer(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Put(Container{Name: "plc-001"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.Remove("plc-001"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("plc-001"); ok {
		t.Error("Get: container still present after Remove")
	}
	// Removing an already-absent container is not an error.
	if err := r.Remove("plc-001"); err != nil {
		t.Errorf("Remove (already gone): %v", err)
	}
}

func TestSetInternalIPAndState(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Put(Container{Name: "plc-001", State: StateCreating}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := r.SetInternalIP("plc-001", "172.18.0.2"); err != nil {
		t.Fatalf("SetInternalIP: %v", err)
	}
	if err := r.SetState("plc-001", StateRunning); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	c, _ := r.Get("plc-001")
	if c.InternalIP != "172.18.0.2" {
		t.Errorf("InternalIP = %q, want 172.18.0.2", c.InternalIP)
	}
	if c.State != StateRunning {
		t.Errorf("State = %q, want running", c.State)
	}
}

func TestOpenReloadsPersistedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Put(Container{Name: "plc-001", State: StateRunning}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	c, ok := reloaded.Get("plc-001")
	if !ok {
		t.Fatal("reloaded registry missing container")
	}
	if c.State != StateRunning {
		t.Errorf("reloaded State = %q, want running", c.State)
	}
}

func TestSetInternalIPUnknownContainer(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.SetInternalIP("ghost", "10.0.0.5"); err == nil {
		t.Error("SetInternalIP on unknown container: want error, got nil")
	}
}

func TestOpenQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot after quarantine = %v, want empty", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	foundQuarantine := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != "registry.json" {
			foundQuarantine = true
		}
	}
	if !foundQuarantine {
		t.Error("expected a quarantined copy of the corrupt file alongside the original")
	}

	// Subsequent writes must succeed against the fresh empty document.
	if err := r.Put(Container{Name: "plc-001"}); err != nil {
		t.Fatalf("Put after quarantine: %v", err)
	}
}
