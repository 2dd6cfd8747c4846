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

// Package identity loads the agent's mTLS client credentials and derives
// its cloud-facing identity from the certificate's common name.
package identity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"tailscale.com/types/lazy"
)

const (
	defaultKeyName  = "client.key"
	defaultCertName = "client.crt"
	defaultCAName   = "ca.crt"
	credentialDir   = ".mtls"
)

type leafResult struct {
	cert *x509.Certificate
	err  error
}

type cnResult struct {
	cn  string
	err error
}

// Identity is the agent's mTLS client certificate and the CommonName
// parsed from it once, lazily, and cached for the process lifetime.
type Identity struct {
	KeyPath  string
	CertPath string
	CAPath   string

	cert    tls.Certificate
	leaf    lazy.SyncValue[leafResult]
	agentCN lazy.SyncValue[cnResult]
}

// Load reads the client key and certificate from dir and records the
// path of an optional CA bundle there; the bundle itself is read later
// by ClientTLSConfig. If dir is empty, it defaults to ~/.mtls.
func Load(dir string) (*Identity, error) {
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("identity: resolve home dir: %w", err)
		}
		dir = filepath.Join(home, credentialDir)
	}

	keyPath := filepath.Join(dir, defaultKeyName)
	certPath := filepath.Join(dir, defaultCertName)

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("identity: load client keypair: %w", err)
	}

	id := &Identity{
		KeyPath:  keyPath,
		CertPath: certPath,
		CAPath:   filepath.Join(dir, defaultCAName),
		cert:     cert,
	}
	return id, nil
}

func (id *Identity) leafCert() (*x509.Certificate, error) {
	r := id.leaf.Get(func() leafResult {
		if len(id.cert.Certificate) == 0 {
			return leafResult{err: fmt.Errorf("identity: certificate chain is empty")}
		}
		leaf, err := x509.ParseCertificate(id.cert.Certificate[0])
		if err != nil {
			return leafResult{err: fmt.Errorf("identity: parse leaf certificate: %w", err)}
		}
		return leafResult{cert: leaf}
	})
	return r.cert, r.err
}

// AgentID returns the agent's identity as derived from the client
// certificate's CommonName. The value is parsed once and cached; later
// calls are free.
func (id *Identity) AgentID() (string, error) {
	r := id.agentCN.Get(func() cnResult {
		leaf, err := id.leafCert()
		if err != nil {
			return cnResult{err: err}
		}
		if leaf.Subject.CommonName == "" {
			return cnResult{err: fmt.Errorf("identity: certificate has empty CommonName")}
		}
		return cnResult{cn: leaf.Subject.CommonName}
	})
	return r.cn, r.err
}

// NotAfter returns the client certificate's expiry, used by the
// supervisor to log a warning as renewal approaches.
func (id *Identity) NotAfter() (time.Time, error) {
	leaf, err := id.leafCert()
	if err != nil {
		return time.Time{}, err
	}
	return leaf.NotAfter, nil
}

// ClientTLSConfig builds the tls.Config used to dial the cloud session
// endpoint: the agent's own certificate for mTLS, and (if a CA bundle
// was found alongside the keypair) a pinned root pool for verifying the
// server. TLS 1.2 is the floor; the cloud endpoint is expected to
// negotiate 1.3 where available.
func (id *Identity) ClientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{id.cert},
		MinVersion:   tls.VersionTLS12,
	}

	caPEM, err := os.ReadFile(id.CAPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("identity: read ca bundle: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("identity: no valid certificates in ca bundle %s", id.CAPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
