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

// Package dispatch is the command dispatcher (C9): a topic -> (schema,
// handler) table, in the teacher's "decorator becomes an ordinary
// function call at startup" idiom (pkg/cli.RootCmd's cmd.AddCommand(...)
// list becomes a sequence of Dispatcher.Handle(...) calls made once from
// the supervisor). Every reply carries the envelope shape spec §4.9
// requires regardless of how the handler finished: {action,
// correlation_id, status, ...}.
package dispatch

import (
	"context"
	"log"

	"github.com/edgehost/orchestrator/pkg/contract"
	"github.com/edgehost/orchestrator/pkg/errkind"
)

// HandlerFunc processes one validated inbound message and returns the
// status word for the reply envelope ("success", "creating", ...) plus
// any additional fields to merge into it. Returning a non-nil err
// produces an error reply instead; if err is an *errkind.Error its Kind
// becomes the reply's "error" field, otherwise it's reported as
// "engine_error" with the message logged in full.
type HandlerFunc func(ctx context.Context, msg *contract.Result) (status string, payload map[string]any, err error)

type registration struct {
	schema contract.Schema
	fn     HandlerFunc
}

// Dispatcher is the topic registration table. Registering the same
// topic twice replaces the previous handler; callers register once at
// startup.
type Dispatcher struct {
	handlers map[string]registration
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: map[string]registration{}}
}

// Handle registers fn for topic, validating inbound payloads against
// schema before fn ever sees them.
func (d *Dispatcher) Handle(topic string, schema contract.Schema, fn HandlerFunc) {
	d.handlers[topic] = registration{schema: schema, fn: fn}
}

// Topics returns every registered topic name, in no particular order.
func (d *Dispatcher) Topics() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch validates and routes one inbound message, always returning a
// reply envelope suitable for sending back correlated by
// correlation_id. It never panics or returns nil: an unknown topic, a
// validation failure, and a handler error all produce a well-formed
// error reply.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, raw map[string]any) map[string]any {
	correlationID := raw["correlation_id"]

	reg, ok := d.handlers[topic]
	if !ok {
		log.Printf("dispatch: unknown topic %q", topic)
		return errorReply(topic, correlationID, errkind.UnknownTopic, "unknown topic")
	}

	result, ferr := reg.schema.Validate(raw)
	if ferr != nil {
		reply := errorReply(topic, correlationID, errkind.ValidationError, ferr.Error())
		reply["field"] = ferr.Path
		reply["expected"] = ferr.Expected
		reply["actual"] = ferr.Actual
		return reply
	}

	status, payload, err := reg.fn(ctx, result)
	if err != nil {
		kind, ok := errkind.KindOf(err)
		if !ok {
			kind = errkind.EngineError
		}
		log.Printf("dispatch: %s: %v", topic, err)
		return errorReply(topic, correlationID, kind, err.Error())
	}

	reply := map[string]any{
		"action":         topic,
		"correlation_id": correlationID,
		"status":         status,
	}
	for k, v := range payload {
		reply[k] = v
	}
	return reply
}

func errorReply(topic string, correlationID any, kind errkind.Kind, detail string) map[string]any {
	return map[string]any{
		"action":         topic,
		"correlation_id": correlationID,
		"status":         "error",
		"error":          string(kind),
		"detail":         detail,
	}
}
