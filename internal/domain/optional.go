package domain

import (
	"encoding/json"
	"time"
)

// The feature bag leaves use explicit Optional wrappers rather than bare
// zero values because "absent" and "false"/"0" are different facts to a
// rule: a rule asking whether a phone number changed recently must be able
// to tell "no" from "we don't know."
//
// On the wire an Optional leaf is just its value; absence of the JSON key
// is what makes it absent. IsZero lets `omitzero` drop absent leaves on
// marshal, and UnmarshalJSON marks any present key as known.

type OptionalString struct {
	Value   string
	Present bool
}

func Str(v string) OptionalString { return OptionalString{Value: v, Present: true} }

func (o OptionalString) IsZero() bool { return !o.Present }

func (o OptionalString) MarshalJSON() ([]byte, error) { return json.Marshal(o.Value) }

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Present = true
	return nil
}

type OptionalFloat64 struct {
	Value   float64
	Present bool
}

func Num(v float64) OptionalFloat64 { return OptionalFloat64{Value: v, Present: true} }

func (o OptionalFloat64) IsZero() bool { return !o.Present }

func (o OptionalFloat64) MarshalJSON() ([]byte, error) { return json.Marshal(o.Value) }

func (o *OptionalFloat64) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Present = true
	return nil
}

type OptionalBool struct {
	Value   bool
	Present bool
}

func Bool(v bool) OptionalBool { return OptionalBool{Value: v, Present: true} }

func (o OptionalBool) IsZero() bool { return !o.Present }

func (o OptionalBool) MarshalJSON() ([]byte, error) { return json.Marshal(o.Value) }

func (o *OptionalBool) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Present = true
	return nil
}

type OptionalInt struct {
	Value   int
	Present bool
}

func Int(v int) OptionalInt { return OptionalInt{Value: v, Present: true} }

func (o OptionalInt) IsZero() bool { return !o.Present }

func (o OptionalInt) MarshalJSON() ([]byte, error) { return json.Marshal(o.Value) }

func (o *OptionalInt) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Present = true
	return nil
}

type OptionalTime struct {
	Value   time.Time
	Present bool
}

func Time(v time.Time) OptionalTime { return OptionalTime{Value: v, Present: true} }

func (o OptionalTime) IsZero() bool { return !o.Present }

func (o OptionalTime) MarshalJSON() ([]byte, error) { return json.Marshal(o.Value) }

func (o *OptionalTime) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Present = true
	return nil
}
