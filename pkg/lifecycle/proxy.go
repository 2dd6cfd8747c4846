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
	"io"
	"net/http"

	"github.com/edgehost/orchestrator/pkg/errkind"
)

// RunCommand proxies run_command to the runtime container named name,
// over its {name}_internal IP recorded in the registry, per spec.md §6
// ("https://{internal_ip}:8443/{path}", TLS verification disabled). The
// response is returned unread so the caller controls how the body is
// drained and wrapped in the reply envelope.
func (e *Engine) RunCommand(ctx context.Context, name, path string, body io.Reader) (*http.Response, error) {
	c, ok := e.reg.Get(name)
	if !ok || c.InternalIP == "" {
		return nil, errkind.New(errkind.NetworkUnresolvable, "run_command", nil)
	}
	resp, err := e.containers.ExecRunHTTPProxy(ctx, c.InternalIP, path, body)
	if err != nil {
		return nil, errkind.New(errkind.EngineError, "run_command", err)
	}
	return resp, nil
}
