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

// Package telemetry is the heartbeat emitter (C11): it samples host
// resource usage every 5 seconds while the cloud session reports
// connected and emits it on the "heartbeat" topic. A sampling failure
// never stops the emitter; it logs and skips that tick.
package telemetry

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/edgehost/orchestrator/pkg/metrics"
)

// Interval is the fixed heartbeat period required by spec §4.11.
const Interval = 5 * time.Second

// bytesToGB converts a byte count to the Number-of-GB unit the
// heartbeat schema requires.
const bytesToGB = 1.0 / (1 << 30)

// Sampler is the subset of *metrics.Sampler the emitter needs.
type Sampler interface {
	Sample() (metrics.Sample, error)
}

// Emitter periodically samples host metrics and publishes a heartbeat
// while the session is connected.
type Emitter struct {
	agentID   string
	sampler   Sampler
	emit      func(topic string, payload map[string]any)
	connected func() bool

	seq atomic.Uint64
}

// New returns an Emitter that reports as agentID, samples via sampler,
// publishes via emit, and consults connected before each tick to decide
// whether the session can currently carry a heartbeat.
func New(agentID string, sampler Sampler, emit func(topic string, payload map[string]any), connected func() bool) *Emitter {
	return &Emitter{agentID: agentID, sampler: sampler, emit: emit, connected: connected}
}

// Run ticks every Interval until ctx is canceled, emitting one
// heartbeat per tick while the session is connected. Disconnected ticks
// are silently skipped, not queued: per spec §4.10 there's no outbound
// queue, so the next tick after reconnect simply carries fresh state.
func (e *Emitter) Run(ctx context.Context) {
	t := time.NewTicker(Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if e.connected != nil && !e.connected() {
				continue
			}
			e.tick()
		}
	}
}

func (e *Emitter) tick() {
	sample, err := e.sampler.Sample()
	if err != nil {
		log.Printf("telemetry: sample: %v", err)
		return
	}

	seq := e.seq.Add(1)
	e.emit("heartbeat", map[string]any{
		"agent_id":     e.agentID,
		"cpu_usage":    sample.CPUUsagePercent,
		"memory_usage": float64(sample.MemoryUsed) * bytesToGB,
		"memory_total": float64(sample.MemoryTotal) * bytesToGB,
		"disk_usage":   float64(sample.DiskUsed) * bytesToGB,
		"disk_total":   float64(sample.DiskTotal) * bytesToGB,
		"uptime":       sample.Uptime.Seconds(),
		"status":       "online",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"seq":          seq,
	})
}
