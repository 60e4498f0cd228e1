// Package canonical provides deterministic JSON serialization for checksums
// and signatures.
//
// The canonical form sorts map keys lexicographically at every nesting level,
// preserves array order, and emits compact output with no extraneous
// whitespace. Structurally equal values always produce byte-identical output,
// which is the prerequisite for stable hashing and signing. Every checksum
// and signature computation in this module goes through Canonicalize so that
// "strip signature fields, then canonicalize" is a single shared contract.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize serializes v into deterministic canonical JSON bytes.
//
// Values that cannot be represented as JSON are string-coerced via fmt,
// never silently dropped.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, normalize(v)); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return buf.Bytes(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns the hex SHA-256 of the result.
func HashJSON(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// ToMap converts any JSON-representable value into a generic map by round
// tripping through encoding/json. Numbers are preserved as json.Number so a
// converted value canonicalizes identically to the same value decoded from
// the wire with DecodeJSON.
func ToMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to map: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("to map: %w", err)
	}
	return out, nil
}

// DecodeJSON decodes JSON bytes with number preservation (json.Number).
// All wire decoding in this module uses this helper so decoded values
// canonicalize identically to exported ones.
func DecodeJSON(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// normalize reduces v to maps, slices and JSON primitives. Map keys become
// strings; unsupported values are coerced to their string form.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		// Structs, typed maps/slices and anything else go through their
		// JSON representation; values json cannot handle are string-coerced.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic interface{}
		if err := dec.Decode(&generic); err != nil {
			return fmt.Sprintf("%v", val)
		}
		return normalize(generic)
	}
}

// encode writes the canonical JSON form of a normalized value.
func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	default:
		return writeScalar(buf, val)
	}
}

func writeScalar(buf *bytes.Buffer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(raw)
	return nil
}
