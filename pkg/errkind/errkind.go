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

// Package errkind gives the agent's failure taxonomy (spec §7) a
// sentinel-error shape so callers can classify errors with errors.Is
// instead of matching on strings, while still wrapping the underlying
// cause for logs.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of failure categories a lifecycle or
// dispatch operation can fail with.
type Kind string

const (
	Busy                     Kind = "busy"
	ImageUnavailable         Kind = "image_unavailable"
	NetworkUnresolvable      Kind = "network_unresolvable"
	NetworkOverlapUnresolved Kind = "network_overlap_unresolved"
	EngineError              Kind = "engine_error"
	RegistryError            Kind = "registry_error"
	TransientTransport       Kind = "transient_transport"
	ValidationError          Kind = "validation_error"
	UnknownTopic             Kind = "unknown_topic"
)

// sentinels lets callers write errors.Is(err, errkind.ErrBusy).
var sentinels = map[Kind]error{}

func sentinel(k Kind) error {
	e := errors.New(string(k))
	sentinels[k] = e
	return e
}

var (
	ErrBusy                     = sentinel(Busy)
	ErrImageUnavailable         = sentinel(ImageUnavailable)
	ErrNetworkUnresolvable      = sentinel(NetworkUnresolvable)
	ErrNetworkOverlapUnresolved = sentinel(NetworkOverlapUnresolved)
	ErrEngine                   = sentinel(EngineError)
	ErrRegistry                 = sentinel(RegistryError)
	ErrTransientTransport       = sentinel(TransientTransport)
	ErrValidation               = sentinel(ValidationError)
	ErrUnknownTopic             = sentinel(UnknownTopic)
)

// Error wraps an underlying cause with a Kind so handlers can reply with
// the right status string while still preserving the original error for
// logs.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, sentinels[k]) true for any *Error of kind k,
// regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New constructs an *Error for the given kind and wraps err (which may be
// nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
