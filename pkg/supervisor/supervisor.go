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

// Package supervisor is the process entry point (C12): it brings every
// subsystem up in order, registers the dispatch table, and blocks until
// told to shut down, in the shape of the teacher's catch.Server
// Start/Shutdown pair built on tailscale.com/syncs.WaitGroup.
package supervisor

import (
	"context"
	"log"
	"sync"

	"tailscale.com/syncs"

	"github.com/edgehost/orchestrator/pkg/cloudsession"
	"github.com/edgehost/orchestrator/pkg/dispatch"
	"github.com/edgehost/orchestrator/pkg/engine"
	"github.com/edgehost/orchestrator/pkg/handlers"
	"github.com/edgehost/orchestrator/pkg/identity"
	"github.com/edgehost/orchestrator/pkg/lifecycle"
	"github.com/edgehost/orchestrator/pkg/metrics"
	"github.com/edgehost/orchestrator/pkg/netmon"
	"github.com/edgehost/orchestrator/pkg/opstate"
	"github.com/edgehost/orchestrator/pkg/reconfig"
	"github.com/edgehost/orchestrator/pkg/registry"
	"github.com/edgehost/orchestrator/pkg/telemetry"
)

// Config collects everything the supervisor needs to wire up, filled in
// by cmd/orchestrator from its fixed paths and cloud URL.
type Config struct {
	RegistryPath      string
	EventSocketPath   string
	CloudURL          string
	SelfContainerName string
	MetricsRoot       string
}

// Supervisor owns every long-running subsystem and their shutdown
// order. It is built once per process by cmd/orchestrator.
type Supervisor struct {
	cfg Config

	identity        *identity.Identity
	engine          engine.ContainerEngine
	reg             *registry.Registry
	ops             *opstate.Tracker
	netClient       *netmon.Client
	reconfigLoop    *reconfig.Loop
	lifecycleEngine *lifecycle.Engine
	sampler         *metrics.Sampler
	session         *cloudsession.Session
	dispatcher      *dispatch.Dispatcher
	emitter         *telemetry.Emitter

	waitGroup syncs.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	// emitterOnce guards startEmitter: it's called from both the
	// session's own OnConnect callback (the dial goroutine) and the
	// connect dispatch handler (the inbound-message goroutine), and
	// must start the emitter exactly once regardless of which fires
	// first.
	emitterOnce sync.Once
}

// registrySnapshotAdapter satisfies reconfig.RegistrySnapshot over the
// real *registry.Registry, translating its richer Container/VNIC shape
// into the narrow view the reconfiguration loop needs.
type registrySnapshotAdapter struct {
	reg *registry.Registry
}

func (a registrySnapshotAdapter) Snapshot() []reconfig.Container {
	src := a.reg.Snapshot()
	out := make([]reconfig.Container, len(src))
	for i, c := range src {
		vnics := make([]reconfig.VNIC, len(c.VNICs))
		for j, v := range c.VNICs {
			vnics[j] = reconfig.VNIC{ParentInterface: v.ParentInterface}
		}
		out[i] = reconfig.Container{Name: c.Name, VNICs: vnics}
	}
	return out
}

// New builds every subsystem from cfg and id, but starts nothing yet.
func New(cfg Config, id *identity.Identity, containerEngine engine.ContainerEngine) (*Supervisor, error) {
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	netClient := netmon.NewClient(cfg.EventSocketPath)
	ops := opstate.NewTracker()
	lifecycleEngine := lifecycle.New(containerEngine, reg, ops, netClient.Cache(), cfg.SelfContainerName)

	reconfigLoop := reconfig.New(registrySnapshotAdapter{reg: reg}, lifecycleEngine)

	tlsConfig, err := id.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	session := cloudsession.New(cfg.CloudURL, tlsConfig)

	sampler := &metrics.Sampler{Root: cfg.MetricsRoot}

	s := &Supervisor{
		cfg:             cfg,
		identity:        id,
		engine:          containerEngine,
		reg:             reg,
		ops:             ops,
		netClient:       netClient,
		reconfigLoop:    reconfigLoop,
		lifecycleEngine: lifecycleEngine,
		sampler:         sampler,
		session:         session,
		dispatcher:      dispatch.New(),
	}

	agentID, err := id.AgentID()
	if err != nil {
		return nil, err
	}
	s.emitter = telemetry.New(agentID, sampler, session.Emit, session.Connected)

	handlers.Register(s.dispatcher, handlers.Deps{
		Lifecycle: lifecycleEngine,
		Sampler:   sampler,
		Session: handlers.SessionControl{
			OnConnect:    s.startEmitter,
			OnDisconnect: func() {},
		},
		SelfContainerName: cfg.SelfContainerName,
	})

	session.SetHandler(func(ctx context.Context, topic string, payload map[string]any) map[string]any {
		return s.dispatcher.Dispatch(ctx, topic, payload)
	})
	session.OnConnect(s.startEmitter)

	return s, nil
}

func (s *Supervisor) startEmitter(ctx context.Context) {
	s.emitterOnce.Do(func() {
		s.waitGroup.Go(func() { s.emitter.Run(s.ctx) })
	})
}

// Run starts every subsystem and blocks until ctx is canceled. All
// subsystems share one derived context, so cancellation reaches them at
// the same moment; Run then waits for the event stream client, the
// reconfiguration loop, the session loop and the emitter to return.
// Shutdown is not ordered: the cloud session is not stopped ahead of the
// others, and reconfigurations already fired by a debounce timer run on
// their own goroutines and are not waited for.
func (s *Supervisor) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.waitGroup.Go(func() {
		if err := s.netClient.Run(s.ctx); err != nil && s.ctx.Err() == nil {
			log.Printf("supervisor: event stream client exited: %v", err)
		}
	})
	s.waitGroup.Go(func() {
		s.reconfigLoop.Run(s.ctx, s.netClient.Changes())
	})
	s.waitGroup.Go(func() {
		s.runSessionForever(s.ctx)
	})

	<-s.ctx.Done()
	s.waitGroup.Wait()
	return nil
}

// runSessionForever restarts the cloud session loop indefinitely: per
// spec §4.12, a session failure is never fatal to the process.
func (s *Supervisor) runSessionForever(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("supervisor: cloud session loop exited: %v", err)
		}
	}
}

// Stop cancels the context Run derived, which makes Run return once its
// subsystems exit; Stop itself does not wait. cmd/orchestrator does not
// call it: on SIGTERM/SIGINT it cancels the context passed to Run.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
