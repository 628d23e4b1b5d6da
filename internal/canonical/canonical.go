// Package canonical produces a deterministic JSON encoding for audit
// payloads. Object keys are sorted lexicographically at every nesting
// level and array order is preserved, so two structurally equal payloads
// always encode to identical bytes regardless of map insertion order.
//
// This is not a full RFC 8785 canonicalization (no Unicode normalization
// or numeric-literal rewriting); it is deterministic for the payload
// shapes the audit service accepts: nested maps, slices, and JSON scalars.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrUnencodable is returned when a payload contains a value outside the
// supported scalar set (string, number, bool, null) and container set
// (string-keyed maps, slices).
var ErrUnencodable = errors.New("unencodable payload value")

// Marshal returns the canonical JSON encoding of v.
// A nil value encodes as the empty object, the canonical form of an
// absent payload.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]any:
		return encodeMap(buf, x)
	case []any:
		return encodeSlice(buf, x)
	case string, bool,
		json.Number,
		float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		buf.Write(b)
		return nil
	}

	// Fallback for typed containers such as map[string]string or []int.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key type %s", ErrUnencodable, rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeMap(buf, m)
	case reflect.Slice, reflect.Array:
		s := make([]any, rv.Len())
		for i := range s {
			s[i] = rv.Index(i).Interface()
		}
		return encodeSlice(buf, s)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return encode(buf, rv.Elem().Interface())
	}
	return fmt.Errorf("%w: unsupported type %T", ErrUnencodable, v)
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnencodable, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeSlice(buf *bytes.Buffer, s []any) error {
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}
