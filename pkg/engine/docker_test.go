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

import "testing"

func TestCanonicalizeRefAddsLatestTag(t *testing.T) {
	got, err := canonicalizeRef("nginx")
	if err != nil {
		t.Fatalf("canonicalizeRef: %v", err)
	}
	want := "docker.io/library/nginx:latest"
	if got != want {
		t.Errorf("canonicalizeRef(nginx) = %q, want %q", got, want)
	}
}

func TestCanonicalizeRefPreservesTag(t *testing.T) {
	got, err := canonicalizeRef("myregistry.example.com/plc-runtime:1.4.2")
	if err != nil {
		t.Fatalf("canonicalizeRef: %v", err)
	}
	want := "myregistry.example.com/plc-runtime:1.4.2"
	if got != want {
		t.Errorf("canonicalizeRef = %q, want %q", got, want)
	}
}

func TestCanonicalizeRefRejectsInvalid(t *testing.T) {
	if _, err := canonicalizeRef("UPPER CASE NOT ALLOWED"); err == nil {
		t.Error("canonicalizeRef: want error for invalid ref, got nil")
	}
}

func TestDigestSuffixExtractsDigest(t *testing.T) {
	const full = "nginx@sha256:abcd1234"
	if got := digestSuffix(full); got != "sha256:abcd1234" {
		t.Errorf("digestSuffix(%q) = %q, want sha256:abcd1234", full, got)
	}
	if got := digestSuffix("sha256:abcd1234"); got != "sha256:abcd1234" {
		t.Errorf("digestSuffix with no @ = %q, want unchanged input", got)
	}
}
