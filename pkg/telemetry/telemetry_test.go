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

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edgehost/orchestrator/pkg/metrics"
)

type fakeSampler struct {
	sample metrics.Sample
	err    error
}

func (f *fakeSampler) Sample() (metrics.Sample, error) { return f.sample, f.err }

type recorder struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (r *recorder) emit(topic string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTickSkippedWhenDisconnected(t *testing.T) {
	s := &fakeSampler{sample: metrics.Sample{MemoryTotal: 1 << 30}}
	rec := &recorder{}
	e := New("agent-1", s, rec.emit, func() bool { return false })

	// Run's loop only calls tick() when connected() is true.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	if rec.count() != 0 {
		t.Errorf("emit called %d times while disconnected, want 0", rec.count())
	}
}

func TestTickEmitsHeartbeatWithSeq(t *testing.T) {
	s := &fakeSampler{sample: metrics.Sample{
		CPUUsagePercent: 12.5,
		MemoryUsed:      1 << 30,
		MemoryTotal:     2 << 30,
		DiskUsed:        3 << 30,
		DiskTotal:       4 << 30,
		Uptime:          90 * time.Second,
	}}
	rec := &recorder{}
	e := New("agent-xyz", s, rec.emit, func() bool { return true })

	e.tick()
	e.tick()

	if rec.count() != 2 {
		t.Fatalf("emit called %d times, want 2", rec.count())
	}
	first, second := rec.calls[0], rec.calls[1]
	if first["agent_id"] != "agent-xyz" {
		t.Errorf("agent_id = %v, want agent-xyz", first["agent_id"])
	}
	if first["status"] != "online" {
		t.Errorf("status = %v, want online", first["status"])
	}
	seq1, ok1 := first["seq"].(uint64)
	seq2, ok2 := second["seq"].(uint64)
	if !ok1 || !ok2 || seq2 != seq1+1 {
		t.Errorf("seq did not increment monotonically: %v then %v", first["seq"], second["seq"])
	}
}

func TestTickSkipsOnSampleError(t *testing.T) {
	s := &fakeSampler{err: fmt.Errorf("boom")}
	rec := &recorder{}
	e := New("agent-1", s, rec.emit, func() bool { return true })

	e.tick()

	if rec.count() != 0 {
		t.Errorf("emit called %d times after sample error, want 0", rec.count())
	}
}
