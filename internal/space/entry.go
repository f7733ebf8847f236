package space

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is implemented by domain values stored in the space. Kind names the
// entry class; Keys returns the matchable fields, where an empty value acts as
// a wildcard when the entry is used as a template.
type Entry interface {
	Kind() string
	Keys() map[string]string
}

// TemplateOf builds a template from an entry, dropping empty (wildcard) keys.
func TemplateOf(e Entry) Template {
	keys := make(map[string]string)
	for k, v := range e.Keys() {
		if v != "" {
			keys[k] = v
		}
	}
	return Template{Kind: e.Kind(), Keys: keys}
}

// TupleOf encodes an entry for writing.
func TupleOf(e Entry) (Tuple, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Tuple{}, NewSpaceError("encode", e.Kind(), fmt.Errorf("%w: %v", ErrInvalidTuple, err))
	}
	return Tuple{Kind: e.Kind(), Keys: e.Keys(), Payload: payload}, nil
}

// Decode unmarshals a tuple payload into T.
func Decode[T Entry](t Tuple) (T, error) {
	var v T
	if err := json.Unmarshal(t.Payload, &v); err != nil {
		return v, NewSpaceError("decode", t.Kind, err)
	}
	if v.Kind() != t.Kind {
		return v, NewSpaceError("decode", t.Kind, fmt.Errorf("%w: want kind %q", ErrInvalidTuple, v.Kind()))
	}
	return v, nil
}

// Write stores e under the given lease.
func Write[T Entry](ctx context.Context, s Space, e T, txn Transaction, lease time.Duration) (Lease, error) {
	t, err := TupleOf(e)
	if err != nil {
		return nil, err
	}
	return s.Write(ctx, t, txn, lease)
}

// Read returns the first entry matching tmpl, or nil when none appeared
// within timeout.
func Read[T Entry](ctx context.Context, s Space, tmpl T, txn Transaction, timeout time.Duration) (*T, error) {
	t, err := s.Read(ctx, TemplateOf(tmpl), txn, timeout)
	return decodePtr[T](t, err)
}

// Take removes and returns the first entry matching tmpl, or nil when none
// appeared within timeout.
func Take[T Entry](ctx context.Context, s Space, tmpl T, txn Transaction, timeout time.Duration) (*T, error) {
	t, err := s.Take(ctx, TemplateOf(tmpl), txn, timeout)
	return decodePtr[T](t, err)
}

func decodePtr[T Entry](t *Tuple, err error) (*T, error) {
	if err != nil || t == nil {
		return nil, err
	}
	v, err := Decode[T](*t)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
