package deflate

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
)

// DefaultHandleKey is the map key marking an externalized handle.
const DefaultHandleKey = "__blob"

// Handle builds the externalized form of a blob.
func Handle(handleKey, hash string) map[string]any {
	return map[string]any{handleKey: hash}
}

// HandleHash returns the hash held by v when v is a handle.
func HandleHash(v any, handleKey string) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	hash, ok := m[handleKey].(string)
	return hash, ok
}

// Deflate returns a copy of v with every binary leaf larger than
// embedLimit replaced by a handle. The bytes are recorded in trap.
// Slices are walked element by element, so an []any of numbers stays a
// list; only the forms AsBuffer lists for leaves are externalized.
func Deflate(v any, handleKey string, trap map[string][]byte, embedLimit int) any {
	out, _ := deflate(v, handleKey, trap, embedLimit)
	return out
}

// deflate reports whether anything below v was replaced so unchanged
// subtrees can be shared instead of copied.
func deflate(v any, handleKey string, trap map[string][]byte, embedLimit int) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []byte:
		if buf, ok := AsBuffer(t, embedLimit); ok {
			return store(buf, handleKey, trap), true
		}
		return v, false
	case []any:
		var out []any
		for i, e := range t {
			d, changed := deflate(e, handleKey, trap, embedLimit)
			if changed && out == nil {
				out = make([]any, len(t))
				copy(out, t)
			}
			if out != nil {
				out[i] = d
			}
		}
		if out == nil {
			return v, false
		}
		return out, true
	case map[string]any:
		if buf, ok := AsBuffer(t, embedLimit); ok {
			return store(buf, handleKey, trap), true
		}
		var out map[string]any
		for k, e := range t {
			d, changed := deflate(e, handleKey, trap, embedLimit)
			if !changed {
				continue
			}
			if out == nil {
				out = make(map[string]any, len(t))
				for kk, ee := range t {
					out[kk] = ee
				}
			}
			out[k] = d
		}
		if out == nil {
			return v, false
		}
		return out, true
	}

	if buf, ok := viewBytes(v, embedLimit); ok {
		return store(buf, handleKey, trap), true
	}
	return walkReflect(v, func(e any) (any, bool, error) {
		d, changed := deflate(e, handleKey, trap, embedLimit)
		return d, changed, nil
	})
}

func store(buf []byte, handleKey string, trap map[string][]byte) map[string]any {
	hash := blob.Hash(buf)
	if _, ok := trap[hash]; !ok {
		trap[hash] = buf
	}
	return Handle(handleKey, hash)
}

// Inflate returns a copy of v with handles resolved back to bytes, taken
// from trap when present and from source otherwise. With a nil source,
// handles missing from trap are kept as they are.
func Inflate(ctx context.Context, v any, handleKey string, trap map[string][]byte, source blob.Store) (any, error) {
	out, _, err := inflate(ctx, v, handleKey, trap, source)
	return out, err
}

// Embed puts the bytes of blobs back in place of their handles. Handles
// for other hashes are left untouched.
func Embed(v any, handleKey string, blobs map[string][]byte) any {
	out, _, _ := inflate(context.Background(), v, handleKey, blobs, nil)
	return out
}

func inflate(ctx context.Context, v any, handleKey string, trap map[string][]byte, source blob.Store) (any, bool, error) {
	if hash, ok := HandleHash(v, handleKey); ok {
		if data, ok := trap[hash]; ok {
			return data, true, nil
		}
		if source == nil {
			return v, false, nil
		}
		data, err := source.Fetch(ctx, hash)
		if err != nil {
			return nil, false, fmt.Errorf("inflate %s: %w", hash, err)
		}
		return data, true, nil
	}

	switch t := v.(type) {
	case nil, []byte:
		return v, false, nil
	case []any:
		var out []any
		for i, e := range t {
			d, changed, err := inflate(ctx, e, handleKey, trap, source)
			if err != nil {
				return nil, false, err
			}
			if changed && out == nil {
				out = make([]any, len(t))
				copy(out, t)
			}
			if out != nil {
				out[i] = d
			}
		}
		if out == nil {
			return v, false, nil
		}
		return out, true, nil
	case map[string]any:
		var out map[string]any
		for k, e := range t {
			d, changed, err := inflate(ctx, e, handleKey, trap, source)
			if err != nil {
				return nil, false, err
			}
			if !changed {
				continue
			}
			if out == nil {
				out = make(map[string]any, len(t))
				for kk, ee := range t {
					out[kk] = ee
				}
			}
			out[k] = d
		}
		if out == nil {
			return v, false, nil
		}
		return out, true, nil
	}

	return walkReflectErr(v, func(e any) (any, bool, error) {
		return inflate(ctx, e, handleKey, trap, source)
	})
}

type visitFunc func(e any) (any, bool, error)

func walkReflect(v any, visit visitFunc) (any, bool) {
	out, changed, _ := walkReflectErr(v, visit)
	return out, changed
}

// walkReflectErr descends into typed slices, arrays and string-keyed maps.
// The copy keeps the original container type when every replaced element
// is assignable to it, and degrades to []any or map[string]any otherwise.
func walkReflectErr(v any, visit visitFunc) (any, bool, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v, false, nil
		}
		n := rv.Len()
		items := make([]any, n)
		dirty := false
		for i := 0; i < n; i++ {
			d, changed, err := visit(rv.Index(i).Interface())
			if err != nil {
				return nil, false, err
			}
			items[i] = d
			dirty = dirty || changed
		}
		if !dirty {
			return v, false, nil
		}

		elem := rv.Type().Elem()
		if rv.Kind() == reflect.Slice && assignableAll(items, elem) {
			out := reflect.MakeSlice(rv.Type(), n, n)
			for i, d := range items {
				setValue(out.Index(i), d, elem)
			}
			return out.Interface(), true, nil
		}
		return items, true, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
			return v, false, nil
		}
		items := make(map[string]any, rv.Len())
		keys := make(map[string]reflect.Value, rv.Len())
		dirty := false
		iter := rv.MapRange()
		for iter.Next() {
			d, changed, err := visit(iter.Value().Interface())
			if err != nil {
				return nil, false, err
			}
			k := iter.Key().String()
			items[k] = d
			keys[k] = iter.Key()
			dirty = dirty || changed
		}
		if !dirty {
			return v, false, nil
		}

		elem := rv.Type().Elem()
		vals := make([]any, 0, len(items))
		for _, d := range items {
			vals = append(vals, d)
		}
		if assignableAll(vals, elem) {
			out := reflect.MakeMapWithSize(rv.Type(), len(items))
			for k, d := range items {
				val := reflect.New(elem).Elem()
				setValue(val, d, elem)
				out.SetMapIndex(keys[k], val)
			}
			return out.Interface(), true, nil
		}
		return items, true, nil
	}
	return v, false, nil
}

func assignableAll(items []any, elem reflect.Type) bool {
	for _, d := range items {
		if d == nil {
			switch elem.Kind() {
			case reflect.Interface, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func, reflect.Chan:
				continue
			}
			return false
		}
		if !reflect.TypeOf(d).AssignableTo(elem) {
			return false
		}
	}
	return true
}

func setValue(dst reflect.Value, d any, elem reflect.Type) {
	if d == nil {
		dst.Set(reflect.Zero(elem))
		return
	}
	dst.Set(reflect.ValueOf(d))
}
