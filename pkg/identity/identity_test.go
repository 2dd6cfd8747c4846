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

package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestKeypair(t *testing.T, dir, commonName string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(dir, defaultCertName), certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(filepath.Join(dir, defaultKeyName), keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
}

func TestAgentIDFromCommonName(t *testing.T) {
	dir := t.TempDir()
	writeTestKeypair(t, dir, "edge-host-0042")

	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, err := id.AgentID()
	if err != nil {
		t.Fatalf("AgentID: %v", err)
	}
	if got != "edge-host-0042" {
		t.Errorf("AgentID = %q, want %q", got, "edge-host-0042")
	}

	// Second call must hit the cache and return the same value.
	got2, err := id.AgentID()
	if err != nil {
		t.Fatalf("AgentID (cached): %v", err)
	}
	if got2 != got {
		t.Errorf("cached AgentID = %q, want %q", got2, got)
	}
}

func TestAgentIDEmptyCommonName(t *testing.T) {
	dir := t.TempDir()
	writeTestKeypair(t, dir, "")

	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := id.AgentID(); err == nil {
		t.Fatal("AgentID: want error for empty CommonName, got nil")
	}
}

func TestClientTLSConfigWithoutCABundle(t *testing.T) {
	dir := t.TempDir()
	writeTestKeypair(t, dir, "edge-host-0042")

	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg, err := id.ClientTLSConfig()
	if err != nil {
		t.Fatalf("ClientTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs should be nil when no ca.crt is present")
	}
}

func TestNotAfterMatchesCertificate(t *testing.T) {
	dir := t.TempDir()
	writeTestKeypair(t, dir, "edge-host-0042")

	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	notAfter, err := id.NotAfter()
	if err != nil {
		t.Fatalf("NotAfter: %v", err)
	}
	if notAfter.Before(time.Now()) {
		t.Errorf("NotAfter = %v, want a future time", notAfter)
	}
}
