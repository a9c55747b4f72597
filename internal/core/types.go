package core

import (
	"encoding/json"
	"time"
)

// FlagType declares how a stored string value is interpreted at evaluation
// time. Unknown types pass the raw string through unchanged.
type FlagType string

const (
	TypeSwitch  FlagType = "SWITCH"
	TypeInteger FlagType = "INTEGER"
	TypeFloat   FlagType = "FLOAT"
	TypeString  FlagType = "STRING"
)

// Kind identifies which variant a [Value] holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

// String returns the lowercase variant name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is the typed result of evaluating a flag. Stored values are plain
// strings with a separate type tag; a Value is constructed at the evaluation
// boundary and serializes as the raw JSON scalar (true, 100, 3.14, "text",
// null).
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

func Null() Value           { return Value{kind: KindNull} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Interface returns the value as a plain Go scalar (nil, bool, int64,
// float64, or string).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

// MarshalJSON emits the raw scalar, never an envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// EnvironmentState is the per-(flag, environment) stored state the evaluator
// operates on. A nil Value means the flag is explicitly disabled in this
// environment; a missing EnvironmentState altogether means not configured.
type EnvironmentState struct {
	Value         *string
	StartDatetime *time.Time
	EndDatetime   *time.Time
}
