package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Attr is one key/value pair of an Attrs mapping
type Attr struct {
	Key   string
	Value any
}

// Attrs is an ordered string-keyed mapping decoded from a JSON object.
// Key order is the order of first appearance in the source document.
// Values are nil, bool, string, json.Number, []any or nested Attrs.
type Attrs []Attr

// Len returns the number of keys
func (a Attrs) Len() int {
	return len(a)
}

// Lookup returns the value stored under key (exact match)
func (a Attrs) Lookup(key string) (any, bool) {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Get returns the value stored under key, or nil
func (a Attrs) Get(key string) any {
	v, _ := a.Lookup(key)
	return v
}

// Has reports whether key is present
func (a Attrs) Has(key string) bool {
	_, ok := a.Lookup(key)
	return ok
}

// Set stores value under key, keeping the key's original position if it already exists
func (a *Attrs) Set(key string, value any) {
	for i := range *a {
		if (*a)[i].Key == key {
			(*a)[i].Value = value
			return
		}
	}
	*a = append(*a, Attr{Key: key, Value: value})
}

// Keys returns the keys in document order
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for _, kv := range a {
		keys = append(keys, kv.Key)
	}
	return keys
}

// Fold builds a case-insensitive index from lowercased key to the real key.
// When two keys differ only by case, the later one wins.
func (a Attrs) Fold() map[string]string {
	idx := make(map[string]string, len(a))
	for _, kv := range a {
		idx[strings.ToLower(kv.Key)] = kv.Key
	}
	return idx
}

// Without returns a copy of a with the given keys removed
func (a Attrs) Without(keys ...string) Attrs {
	out := make(Attrs, 0, len(a))
	for _, kv := range a {
		skip := false
		for _, k := range keys {
			if kv.Key == k {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, kv)
		}
	}
	return out
}

// MarshalJSON writes the mapping as a JSON object in key order
func (a Attrs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := MarshalCompact(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := MarshalCompact(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attribute %q: %w", kv.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order
func (a *Attrs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	switch t := v.(type) {
	case Attrs:
		*a = t
	case nil:
		*a = nil
	default:
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	return nil
}

// DecodeJSON decodes one JSON document from r. Objects become Attrs,
// arrays []any and numbers json.Number.
func DecodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after JSON document")
	}
	return v, nil
}

// DecodeJSONStream decodes consecutive JSON documents (one per line or
// concatenated) and calls fn for each until EOF.
func DecodeJSONStream(r io.Reader, fn func(any) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	for {
		v, err := decodeValue(dec)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := Attrs{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, unexpectedEOF(err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, unexpectedEOF(err)
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, unexpectedEOF(err)
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, unexpectedEOF(err)
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, unexpectedEOF(err)
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		return tok, nil
	}
}

// unexpectedEOF reports io.EOF inside a document as truncation
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Number reports v as a float64 when it is a JSON number
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Integer reports v as an int64 when it is an integral JSON number
// (a number written with a fraction or exponent is not an integer).
func Integer(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// FormatValue renders a value as export text. nil is the empty string,
// composite values are compact JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case *float64:
		if t == nil {
			return ""
		}
		return strconv.FormatFloat(*t, 'f', -1, 64)
	case *int64:
		if t == nil {
			return ""
		}
		return strconv.FormatInt(*t, 10)
	case *string:
		if t == nil {
			return ""
		}
		return *t
	default:
		b, err := MarshalCompact(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// MarshalCompact encodes v as compact JSON without escaping <, > and &
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
