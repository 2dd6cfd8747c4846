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

package opstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/edgehost/orchestrator/pkg/errkind"
)

func TestBeginReturnsToIdleOnSuccess(t *testing.T) {
	tr := NewTracker()
	ran := false
	err := tr.Begin("web", Creating, func() error {
		ran = true
		if got := tr.State("web"); got != Creating {
			t.Errorf("State during Begin = %s, want Creating", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !ran {
		t.Fatal("fn was not called")
	}
	if got := tr.State("web"); got != Idle {
		t.Errorf("State after Begin = %s, want Idle", got)
	}
}

func TestBeginReturnsToIdleOnError(t *testing.T) {
	tr := NewTracker()
	sentinel := errors.New("boom")
	err := tr.Begin("web", Deleting, func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("Begin error = %v, want %v", err, sentinel)
	}
	if got := tr.State("web"); got != Idle {
		t.Errorf("State after failing Begin = %s, want Idle", got)
	}
}

func TestBeginRejectsConcurrentOperation(t *testing.T) {
	tr := NewTracker()
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Begin("web", Creating, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := tr.Begin("web", Reconfiguring, func() error { return nil })
	if !errors.Is(err, errkind.ErrBusy) {
		t.Errorf("concurrent Begin error = %v, want errkind.ErrBusy", err)
	}
	close(release)
	wg.Wait()
}

func TestBeginIndependentNamesDoNotBlock(t *testing.T) {
	tr := NewTracker()
	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.Begin("web", Creating, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := tr.Begin("db", Creating, func() error { return nil })
	if err != nil {
		t.Errorf("Begin on independent name: %v", err)
	}
	close(release)
	wg.Wait()
}
