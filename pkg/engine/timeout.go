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

package engine

import (
	"context"
	"io"
	"net/http"
	"time"
)

// timeoutEngine bounds every ContainerEngine call at d, per spec's
// concurrency model ("Engine calls have a per-call timeout (default
// 30s); on timeout the operation fails with engine_error"). A caller
// that already set a tighter deadline on ctx keeps it: WithTimeout only
// ever shortens, never extends.
//
// ExecRunHTTPProxy is passed through without a deadline here:
// dockerEngine's ExecRunHTTPProxy builds its own HTTP client on each
// call, with a dial timeout and an overall request timeout, both set to
// DefaultCallTimeout.
type timeoutEngine struct {
	inner ContainerEngine
	d     time.Duration
}

// WithTimeout wraps inner so every call (other than ExecRunHTTPProxy)
// runs under a context bounded at d.
func WithTimeout(inner ContainerEngine, d time.Duration) ContainerEngine {
	return &timeoutEngine{inner: inner, d: d}
}

func (e *timeoutEngine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.d)
}

func (e *timeoutEngine) Pull(ctx context.Context, ref string) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.Pull(ctx, ref)
}

func (e *timeoutEngine) HasLocalImage(ctx context.Context, ref string) (bool, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.HasLocalImage(ctx, ref)
}

func (e *timeoutEngine) Create(ctx context.Context, name, image string) (string, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.Create(ctx, name, image)
}

func (e *timeoutEngine) Remove(ctx context.Context, name string) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.Remove(ctx, name)
}

func (e *timeoutEngine) Inspect(ctx context.Context, name string) (ContainerInfo, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.Inspect(ctx, name)
}

func (e *timeoutEngine) NetworkCreate(ctx context.Context, name string, opts NetworkOptions) (string, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.NetworkCreate(ctx, name, opts)
}

func (e *timeoutEngine) NetworkRemove(ctx context.Context, name string) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.NetworkRemove(ctx, name)
}

func (e *timeoutEngine) NetworkList(ctx context.Context) ([]Network, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.NetworkList(ctx)
}

func (e *timeoutEngine) NetworkConnect(ctx context.Context, networkName, containerName string, ep EndpointConfig) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.NetworkConnect(ctx, networkName, containerName, ep)
}

func (e *timeoutEngine) NetworkDisconnect(ctx context.Context, networkName, containerName string, force bool) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	return e.inner.NetworkDisconnect(ctx, networkName, containerName, force)
}

func (e *timeoutEngine) ExecRunHTTPProxy(ctx context.Context, internalIP, path string, body io.Reader) (*http.Response, error) {
	return e.inner.ExecRunHTTPProxy(ctx, internalIP, path, body)
}
