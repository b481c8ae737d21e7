// Copyright 2026 The Runlog Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Path is the hierarchical address of an attribute, ordered from the
// outermost namespace inward (e.g. ["metrics", "train", "loss"]).
type Path []string

// String renders the path with "/" separators for logs and errors.
func (p Path) String() string { return strings.Join(p, "/") }

// Kind discriminates the operation variants in serialized form. The
// value is written into every record as the "kind" field.
type Kind string

// The fixed enumeration of operation kinds. Adding a kind requires a
// new struct, a case in Encode, and a case in Decode.
const (
	KindAssignFloat     Kind = "assign_float"
	KindAssignString    Kind = "assign_string"
	KindAssignBool      Kind = "assign_bool"
	KindLogFloats       Kind = "log_floats"
	KindAddStrings      Kind = "add_strings"
	KindRemoveStrings   Kind = "remove_strings"
	KindDeleteAttribute Kind = "delete_attribute"
)

// Operation is one metadata mutation addressed at an attribute path.
// Operations are immutable once enqueued; the queue stores them
// serialized and the backend consumes them in version order.
type Operation interface {
	// Kind returns the serialization discriminant for this variant.
	Kind() Kind
	// Target returns the attribute path the operation mutates.
	Target() Path
}

// AssignFloat sets a float attribute to a single value.
type AssignFloat struct {
	Path  Path    `json:"path"`
	Value float64 `json:"value"`
}

func (AssignFloat) Kind() Kind      { return KindAssignFloat }
func (op AssignFloat) Target() Path { return op.Path }

// AssignString sets a string attribute to a single value.
type AssignString struct {
	Path  Path   `json:"path"`
	Value string `json:"value"`
}

func (AssignString) Kind() Kind      { return KindAssignString }
func (op AssignString) Target() Path { return op.Path }

// AssignBool sets a boolean attribute to a single value.
type AssignBool struct {
	Path  Path `json:"path"`
	Value bool `json:"value"`
}

func (AssignBool) Kind() Kind      { return KindAssignBool }
func (op AssignBool) Target() Path { return op.Path }

// FloatPoint is one element of a float series: a value with an
// optional step index and an optional epoch-seconds timestamp.
type FloatPoint struct {
	Value float64  `json:"value"`
	Step  *float64 `json:"step,omitempty"`
	At    *float64 `json:"at,omitempty"`
}

// LogFloats appends points to a float series attribute.
type LogFloats struct {
	Path   Path         `json:"path"`
	Values []FloatPoint `json:"values"`
}

func (LogFloats) Kind() Kind      { return KindLogFloats }
func (op LogFloats) Target() Path { return op.Path }

// AddStrings inserts values into a string-set attribute.
type AddStrings struct {
	Path   Path     `json:"path"`
	Values []string `json:"values"`
}

func (AddStrings) Kind() Kind      { return KindAddStrings }
func (op AddStrings) Target() Path { return op.Path }

// RemoveStrings removes values from a string-set attribute.
type RemoveStrings struct {
	Path   Path     `json:"path"`
	Values []string `json:"values"`
}

func (RemoveStrings) Kind() Kind      { return KindRemoveStrings }
func (op RemoveStrings) Target() Path { return op.Path }

// DeleteAttribute removes an attribute entirely.
type DeleteAttribute struct {
	Path Path `json:"path"`
}

func (DeleteAttribute) Kind() Kind      { return KindDeleteAttribute }
func (op DeleteAttribute) Target() Path { return op.Path }

// Encode serializes an operation as a JSON object with an explicit
// "kind" discriminant alongside the variant's own fields.
func Encode(op Operation) (json.RawMessage, error) {
	// Each case embeds the concrete type so its fields marshal inline
	// next to the discriminant.
	type tag struct {
		Kind Kind `json:"kind"`
	}
	switch v := op.(type) {
	case AssignFloat:
		return json.Marshal(struct {
			tag
			AssignFloat
		}{tag{v.Kind()}, v})
	case AssignString:
		return json.Marshal(struct {
			tag
			AssignString
		}{tag{v.Kind()}, v})
	case AssignBool:
		return json.Marshal(struct {
			tag
			AssignBool
		}{tag{v.Kind()}, v})
	case LogFloats:
		return json.Marshal(struct {
			tag
			LogFloats
		}{tag{v.Kind()}, v})
	case AddStrings:
		return json.Marshal(struct {
			tag
			AddStrings
		}{tag{v.Kind()}, v})
	case RemoveStrings:
		return json.Marshal(struct {
			tag
			RemoveStrings
		}{tag{v.Kind()}, v})
	case DeleteAttribute:
		return json.Marshal(struct {
			tag
			DeleteAttribute
		}{tag{v.Kind()}, v})
	default:
		return nil, fmt.Errorf("record: cannot encode operation type %T", op)
	}
}

// Decode deserializes a JSON object produced by Encode. An unknown or
// missing "kind" is an error, never skipped.
func Decode(data json.RawMessage) (Operation, error) {
	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("record: reading kind discriminant: %w", err)
	}

	switch probe.Kind {
	case KindAssignFloat:
		return unmarshalAs[AssignFloat](data)
	case KindAssignString:
		return unmarshalAs[AssignString](data)
	case KindAssignBool:
		return unmarshalAs[AssignBool](data)
	case KindLogFloats:
		return unmarshalAs[LogFloats](data)
	case KindAddStrings:
		return unmarshalAs[AddStrings](data)
	case KindRemoveStrings:
		return unmarshalAs[RemoveStrings](data)
	case KindDeleteAttribute:
		return unmarshalAs[DeleteAttribute](data)
	case "":
		return nil, fmt.Errorf("record: operation has no kind discriminant")
	default:
		return nil, fmt.Errorf("record: unknown operation kind %q", probe.Kind)
	}
}

func unmarshalAs[T Operation](data json.RawMessage) (Operation, error) {
	var op T
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("record: decoding %T: %w", op, err)
	}
	return op, nil
}
