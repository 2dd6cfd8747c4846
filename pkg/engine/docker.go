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
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/docker/distribution/reference"
	dockerconfig "github.com/docker/cli/cli/config"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerEngine implements ContainerEngine over the real Docker Engine
// API via the docker/docker SDK client.
type dockerEngine struct {
	cli *client.Client
}

// NewDockerEngine dials the local Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, DOCKER_TLS_VERIFY,
// etc; defaults to the Unix socket).
func NewDockerEngine() (ContainerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("engine: connect to docker: %w", err)
	}
	return WithTimeout(&dockerEngine{cli: cli}, DefaultCallTimeout), nil
}

func (e *dockerEngine) Pull(ctx context.Context, ref string) error {
	canonical, err := canonicalizeRef(ref)
	if err != nil {
		return fmt.Errorf("engine: canonicalize ref %q: %w", ref, err)
	}

	opts := image.PullOptions{}
	if auth, ok := registryAuth(canonical); ok {
		opts.RegistryAuth = auth
	}

	rc, err := e.cli.ImagePull(ctx, canonical, opts)
	if err != nil {
		return fmt.Errorf("engine: pull %s: %w", canonical, err)
	}
	defer rc.Close()
	// Drain the pull progress stream; callers don't need line-by-line
	// progress, only the terminal error (if any).
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("engine: pull %s: read progress stream: %w", canonical, err)
	}

	e.logManifestKind(ctx, canonical)
	return nil
}

// logManifestKind resolves the registry-side descriptor for ref via the
// distribution API and, when one of the local image's repo digests
// matches the registry's digest, logs that match together with whether
// the descriptor is a single-arch manifest or a multi-arch index. A
// mismatch or any lookup failure logs nothing. Best-effort: failures
// here never fail the pull, which has already succeeded.
func (e *dockerEngine) logManifestKind(ctx context.Context, ref string) {
	dist, err := e.cli.DistributionInspect(ctx, ref, "")
	if err != nil {
		return
	}

	kind := "manifest"
	if dist.Descriptor.MediaType == ispec.MediaTypeImageIndex {
		kind = "index"
	}

	remote, err := digest.Parse(string(dist.Descriptor.Digest))
	if err != nil {
		return
	}

	local, err := e.cli.ImageInspect(ctx, ref)
	if err != nil {
		return
	}
	for _, rd := range local.RepoDigests {
		if ld, err := digest.Parse(digestSuffix(rd)); err == nil && ld == remote {
			log.Printf("engine: pulled %s as %s, digest %s matches local", ref, kind, remote)
			return
		}
	}
}

func (e *dockerEngine) HasLocalImage(ctx context.Context, ref string) (bool, error) {
	canonical, err := canonicalizeRef(ref)
	if err != nil {
		return false, fmt.Errorf("engine: canonicalize ref %q: %w", ref, err)
	}
	inspect, err := e.cli.ImageInspect(ctx, canonical)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("engine: inspect image %s: %w", canonical, err)
	}
	return inspect.ID != "", nil
}

func digestSuffix(repoDigest string) string {
	if i := strings.LastIndex(repoDigest, "@"); i >= 0 {
		return repoDigest[i+1:]
	}
	return repoDigest
}

func (e *dockerEngine) Create(ctx context.Context, name, image string) (string, error) {
	cfg := &container.Config{Image: image}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyAlways},
	}
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("engine: create container %s: %w", name, err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("engine: start container %s: %w", name, err)
	}
	return resp.ID, nil
}

func (e *dockerEngine) Remove(ctx context.Context, name string) error {
	id, err := e.resolveContainerID(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("engine: resolve container %s: %w", name, err)
	}
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("engine: remove container %s: %w", name, err)
	}
	return nil
}

func (e *dockerEngine) Inspect(ctx context.Context, name string) (ContainerInfo, error) {
	id, err := e.resolveContainerID(ctx, name)
	if err != nil {
		return ContainerInfo{}, err
	}
	inspect, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("engine: inspect container %s: %w", name, err)
	}

	info := ContainerInfo{
		ID:          inspect.ID,
		Running:     inspect.State != nil && inspect.State.Running,
		Attachments: map[string]Attachment{},
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
	}
	if inspect.NetworkSettings != nil {
		for netName, ep := range inspect.NetworkSettings.Networks {
			info.Attachments[netName] = Attachment{
				NetworkID:  ep.NetworkID,
				IPAddress:  ep.IPAddress,
				MACAddress: ep.MacAddress,
			}
		}
	}
	return info, nil
}

func (e *dockerEngine) resolveContainerID(ctx context.Context, name string) (string, error) {
	inspect, err := e.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", err
	}
	return inspect.ID, nil
}

func (e *dockerEngine) NetworkCreate(ctx context.Context, name string, opts NetworkOptions) (string, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "bridge"
	}

	createOpts := network.CreateOptions{
		Driver:   driver,
		Internal: opts.Internal,
	}
	if opts.Subnet != "" {
		ipamCfg := network.IPAMConfig{Subnet: opts.Subnet}
		if opts.Gateway != "" {
			ipamCfg.Gateway = opts.Gateway
		}
		createOpts.IPAM = &network.IPAM{Config: []network.IPAMConfig{ipamCfg}}
	}
	if opts.Parent != "" {
		createOpts.Options = map[string]string{"parent": opts.Parent}
	}

	resp, err := e.cli.NetworkCreate(ctx, name, createOpts)
	if err != nil {
		return "", fmt.Errorf("engine: create network %s: %w", name, err)
	}
	return resp.ID, nil
}

func (e *dockerEngine) NetworkRemove(ctx context.Context, name string) error {
	if err := e.cli.NetworkRemove(ctx, name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("engine: remove network %s: %w", name, err)
	}
	return nil
}

func (e *dockerEngine) NetworkList(ctx context.Context) ([]Network, error) {
	summaries, err := e.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("engine: list networks: %w", err)
	}

	out := make([]Network, 0, len(summaries))
	for _, s := range summaries {
		n := Network{ID: s.ID, Name: s.Name, Driver: s.Driver}
		if s.Options != nil {
			n.Parent = s.Options["parent"]
		}
		if len(s.IPAM.Config) > 0 {
			n.Subnet = s.IPAM.Config[0].Subnet
			n.Gateway = s.IPAM.Config[0].Gateway
		}
		out = append(out, n)
	}
	return out, nil
}

func (e *dockerEngine) NetworkConnect(ctx context.Context, networkName, containerName string, ep EndpointConfig) error {
	settings := &network.EndpointSettings{
		Aliases:    ep.Aliases,
		MacAddress: ep.MACAddress,
	}
	if ep.IPAddress != "" {
		settings.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: ep.IPAddress}
	}
	if err := e.cli.NetworkConnect(ctx, networkName, containerName, settings); err != nil {
		return fmt.Errorf("engine: connect %s to %s: %w", containerName, networkName, err)
	}
	return nil
}

func (e *dockerEngine) NetworkDisconnect(ctx context.Context, networkName, containerName string, force bool) error {
	if err := e.cli.NetworkDisconnect(ctx, networkName, containerName, force); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("engine: disconnect %s from %s: %w", containerName, networkName, err)
	}
	return nil
}

func (e *dockerEngine) ExecRunHTTPProxy(ctx context.Context, internalIP, path string, body io.Reader) (*http.Response, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // runtime presents a self-signed cert
		DialContext: (&net.Dialer{Timeout: DefaultCallTimeout}).DialContext,
	}
	httpClient := &http.Client{Transport: transport, Timeout: DefaultCallTimeout}

	url := fmt.Sprintf("https://%s:8443/%s", internalIP, strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("engine: build runtime proxy request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: runtime proxy request to %s: %w", internalIP, err)
	}
	return resp, nil
}

// canonicalizeRef normalizes ref (e.g. bare "nginx" or "nginx:1.27")
// into its fully-qualified form via distribution/reference, the same
// normalization Docker itself applies before a pull.
func canonicalizeRef(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", err
	}
	return reference.TagNameOnly(named).String(), nil
}

// registryAuth looks up credentials for ref's registry from the
// operator's Docker credential store (the same store `docker login`
// populates) and base64-encodes them for the ImagePull RegistryAuth
// field. Returns ok=false if no config file or no matching entry is
// found; an anonymous pull is attempted in that case.
func registryAuth(ref string) (string, bool) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", false
	}

	cfgFile, err := dockerconfig.Load("")
	if err != nil {
		return "", false
	}

	hostname := reference.Domain(named)
	authCfg, err := cfgFile.GetAuthConfig(hostname)
	if err != nil {
		return "", false
	}
	if authCfg.Username == "" && authCfg.Password == "" && authCfg.IdentityToken == "" {
		return "", false
	}

	raw, err := json.Marshal(authCfg)
	if err != nil {
		return "", false
	}
	return base64.URLEncoding.EncodeToString(raw), true
}

func isNotFound(err error) bool {
	return client.IsErrNotFound(err)
}
