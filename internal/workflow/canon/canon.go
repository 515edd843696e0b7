// Package canon produces the canonical serialization of a workflow
// definition that §4.F/§8 hash binding and round-trip properties depend on:
// sorted object keys, no insignificant whitespace, normalized numeric zeros.
// Two definitions that are structurally equal produce byte-identical
// canonical output regardless of map iteration order or platform.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize parses def (already-valid JSON or a Go value) and returns its
// canonical byte form: object keys sorted lexicographically, no whitespace,
// numeric zero values normalized to "0". Canonicalize is idempotent:
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(def any) ([]byte, error) {
	var v any
	switch t := def.(type) {
	case []byte:
		if err := json.Unmarshal(t, &v); err != nil {
			return nil, fmt.Errorf("canon: invalid json: %w", err)
		}
	case string:
		if err := json.Unmarshal([]byte(t), &v); err != nil {
			return nil, fmt.Errorf("canon: invalid json: %w", err)
		}
	default:
		// Round-trip through JSON first so numeric types (int, float64,
		// json.Number) normalize the same way regardless of caller.
		raw, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("canon: marshal: %w", err)
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("canon: invalid json: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the sha256 of def's canonical form, formatted "sha256:<hex>"
// as referenced throughout §3/§4.F/§8.
func Hash(def any) (string, error) {
	canonical, err := Canonicalize(def)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case float64:
		encodeNumber(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
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
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

// encodeNumber normalizes numeric zero (encoding/json always decodes JSON
// numbers into float64) so "-0", "0.0", and "0" canonicalize identically,
// and otherwise writes the shortest round-tripping decimal form.
func encodeNumber(buf *bytes.Buffer, f float64) {
	if f == 0 {
		buf.WriteByte('0')
		return
	}
	if f == float64(int64(f)) {
		fmt.Fprintf(buf, "%d", int64(f))
		return
	}
	b, _ := json.Marshal(f)
	buf.Write(b)
}
