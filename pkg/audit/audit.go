// Package audit records field-level mutations of a value as Transaction
// transitions.
package audit

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Snapshot deep-clones v into a field map. Structs are flattened through
// their cbor or json tags; function values are dropped.
func Snapshot(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := codec.MarshalCBOR(dropFuncs(v))
	if err != nil {
		return nil, fmt.Errorf("snapshot %T: %w", v, err)
	}
	var out map[string]any
	if err := codec.UnmarshalCBOR(data, &out); err != nil {
		return nil, fmt.Errorf("snapshot %T: %w", v, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Diff returns one transition per field whose value differs between the
// two snapshots, in field name order. Fields absent or nil on both sides
// are skipped.
func Diff(before, after map[string]any) []transaction.Transition {
	keys := make([]string, 0, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var out []transaction.Transition
	for _, k := range keys {
		b, a := before[k], after[k]
		if b == nil && a == nil {
			continue
		}
		if reflect.DeepEqual(b, a) {
			continue
		}
		out = append(out, transaction.Transition{k: {Before: b, After: a}})
	}
	return out
}

// Audit snapshots v, runs fn and returns the transitions fn made to v.
// v must be a pointer or a map for mutations to be observable. The
// transitions are returned even when fn fails.
func Audit(v any, fn func() error) ([]transaction.Transition, error) {
	before, err := Snapshot(v)
	if err != nil {
		return nil, err
	}
	fnErr := fn()
	after, err := Snapshot(v)
	if err != nil {
		return nil, err
	}
	return Diff(before, after), fnErr
}

// dropFuncs removes function values from generic maps and slices. Typed
// values are returned as they are.
func dropFuncs(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if e != nil && reflect.TypeOf(e).Kind() == reflect.Func {
				continue
			}
			out[k] = dropFuncs(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			if e != nil && reflect.TypeOf(e).Kind() == reflect.Func {
				continue
			}
			out[i] = dropFuncs(e)
		}
		return out
	default:
		return v
	}
}
