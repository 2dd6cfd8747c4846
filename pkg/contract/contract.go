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

// Package contract validates inbound cloud messages against small,
// declaratively-described schemas before a handler ever sees them.
// Validation is pure: no network, no filesystem, no side effects.
package contract

import (
	"fmt"
	"time"
)

// Type is one of the closed set of type specifiers a schema field can
// carry.
type Type interface {
	typeName() string
	validate(path string, v any) (any, *FieldError)
}

// FieldError is returned by Validate on the first field that fails to
// match its schema, carrying a dotted path to the offending field.
type FieldError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func fieldErr(path, expected string, actual any) *FieldError {
	return &FieldError{Path: path, Expected: expected, Actual: typeOf(actual)}
}

func typeOf(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// --- concrete type specifiers ---

type stringType struct{}

func (stringType) typeName() string { return "String" }
func (stringType) validate(path string, v any) (any, *FieldError) {
	s, ok := v.(string)
	if !ok {
		return nil, fieldErr(path, "String", v)
	}
	return s, nil
}

type numberType struct{}

func (numberType) typeName() string { return "Number" }
func (numberType) validate(path string, v any) (any, *FieldError) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return nil, fieldErr(path, "Number", v)
	}
}

type booleanType struct{}

func (booleanType) typeName() string { return "Boolean" }
func (booleanType) validate(path string, v any) (any, *FieldError) {
	b, ok := v.(bool)
	if !ok {
		return nil, fieldErr(path, "Boolean", v)
	}
	return b, nil
}

type dateType struct{}

func (dateType) typeName() string { return "Date" }
func (dateType) validate(path string, v any) (any, *FieldError) {
	s, ok := v.(string)
	if !ok {
		return nil, fieldErr(path, "Date", v)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Accept bare-date ISO-8601 as well (no time component).
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fieldErr(path, "Date", v)
		}
	}
	return t, nil
}

type listType struct{ elem Type }

// List declares a homogeneous list of T.
func List(elem Type) Type { return listType{elem: elem} }

func (listType) typeName() string { return "List" }
func (l listType) validate(path string, v any) (any, *FieldError) {
	items, ok := v.([]any)
	if !ok {
		return nil, fieldErr(path, "List", v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		ev, ferr := l.elem.validate(fmt.Sprintf("%s[%d]", path, i), item)
		if ferr != nil {
			return nil, ferr
		}
		out[i] = ev
	}
	return out, nil
}

type optionalType struct{ inner Type }

// Optional declares a field that may be absent or null; if present, it
// must match T.
func Optional(inner Type) Type { return optionalType{inner: inner} }

func (optionalType) typeName() string { return "Optional" }
func (o optionalType) validate(path string, v any) (any, *FieldError) {
	if v == nil {
		return nil, nil
	}
	return o.inner.validate(path, v)
}

type objectType struct{ schema Schema }

// Object declares a nested object validated against schema.
func Object(schema Schema) Type { return objectType{schema: schema} }

func (objectType) typeName() string { return "Object" }
func (o objectType) validate(path string, v any) (any, *FieldError) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldErr(path, "Object", v)
	}
	result, ferr := o.schema.validate(path, m)
	if ferr != nil {
		return nil, ferr
	}
	return reshape(result), nil
}

// reshape flattens a Result back into the plain map[string]any every
// consumer expects (handlers read msg.Fields["x"].(map[string]any) for
// a nested object, never a *Result): Extra is merged in alongside
// Fields, since both are preserved per spec §4.1's "preserve unknown
// fields" choice.
func reshape(r *Result) map[string]any {
	out := make(map[string]any, len(r.Fields)+len(r.Extra))
	for k, v := range r.Extra {
		out[k] = v
	}
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

// String, Number, Boolean, Date are the atomic type specifiers.
var (
	String  Type = stringType{}
	Number  Type = numberType{}
	Boolean Type = booleanType{}
	Date    Type = dateType{}
)

// Schema maps a field name to its type specifier.
type Schema map[string]Type

// Result is the validated, reshaped value of a successful Validate call.
// Fields is exactly the schema's shape (present Optional fields included,
// absent ones omitted). Extra carries any fields in the input that the
// schema didn't declare — per the documented choice in spec §4.1, unknown
// fields are preserved rather than discarded.
type Result struct {
	Fields map[string]any
	Extra  map[string]any
}

// Validate checks msg against schema. On success it returns a Result
// whose Fields match the schema exactly; on failure it returns the
// FieldError of the first failing field it visits. Schema is a map, so
// when several fields fail, which one is reported is not defined.
func (s Schema) Validate(msg map[string]any) (*Result, *FieldError) {
	return s.validate("", msg)
}

func (s Schema) validate(basePath string, msg map[string]any) (*Result, *FieldError) {
	fields := make(map[string]any, len(s))
	seen := make(map[string]bool, len(s))
	for name, typ := range s {
		seen[name] = true
		path := name
		if basePath != "" {
			path = basePath + "." + name
		}
		raw, present := msg[name]
		if !present {
			if _, isOptional := typ.(optionalType); isOptional {
				continue
			}
			return nil, fieldErr(path, typ.typeName(), nil)
		}
		v, ferr := typ.validate(path, raw)
		if ferr != nil {
			return nil, ferr
		}
		if v != nil {
			fields[name] = v
		}
	}
	var extra map[string]any
	for k, v := range msg {
		if !seen[k] {
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
		}
	}
	return &Result{Fields: fields, Extra: extra}, nil
}

// BaseMessage is the common envelope every inbound cloud message carries.
var BaseMessage = Schema{
	"correlation_id": Optional(Number),
	"action":         Optional(String),
	"requested_at":   Optional(Date),
}

// BaseDevice extends BaseMessage with the target device identifier.
var BaseDevice = merge(BaseMessage, Schema{
	"device_id": String,
})

func merge(schemas ...Schema) Schema {
	out := Schema{}
	for _, s := range schemas {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
