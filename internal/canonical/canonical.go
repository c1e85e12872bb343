package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Marshal produces the canonical JSON form of v.
// This is the ONLY serialization used for identity computation.
//
// Supported directly: nil, bool, string, all integer kinds, float32/64,
// json.Number, []any, map[string]any, []string, map[string]string,
// json.RawMessage. Anything else (structs, typed maps and slices) is projected
// through encoding/json first, so json tags decide field names.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMarshal(v any) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func encode(buf *bytes.Buffer, v any, path string) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, val, path)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return encodeFloat(buf, float64(val), path)
	case float64:
		return encodeFloat(buf, val, path)
	case json.Number:
		s, err := formatNumberLiteral(string(val))
		if err != nil {
			return unrepresentable(path, "%v", err)
		}
		buf.WriteString(s)
	case json.RawMessage:
		decoded, err := decodeJSON(val, path)
		if err != nil {
			return err
		}
		return encode(buf, decoded, path)
	case []any:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case []string:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case map[string]any:
		return encodeObject(buf, val, path)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		return encodeObject(buf, obj, path)
	default:
		projected, err := project(v, path)
		if err != nil {
			return err
		}
		return encode(buf, projected, path)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return unrepresentable(path, "non-finite number %v", f)
	}
	s, err := formatFloat(f)
	if err != nil {
		return unrepresentable(path, "%v", err)
	}
	buf.WriteString(s)
	return nil
}

// encodeString writes s NFC-normalized with RFC 8785 escaping: only the quote,
// the backslash and control characters are escaped. No HTML escaping and no
// U+2028/U+2029 escaping (encoding/json does both).
func encodeString(buf *bytes.Buffer, s, path string) error {
	if !utf8.ValidString(s) {
		return unrepresentable(path, "invalid UTF-8 in string")
	}
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return nil
}

func encodeArray(buf *bytes.Buffer, n int, at func(int) any, path string) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, at(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any, path string) error {
	// Keys are normalized before sorting so that two spellings of the same
	// text cannot produce two different orders.
	normalized := make(map[string]any, len(obj))
	for k, v := range obj {
		if !utf8.ValidString(k) {
			return unrepresentable(path, "invalid UTF-8 in object key")
		}
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return unrepresentable(path, "keys collide after NFC normalization: %q", nk)
		}
		normalized[nk] = v
	}

	buf.WriteByte('{')
	for i, k := range SortedKeys(normalized) {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k, path); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, normalized[k], fmt.Sprintf("%s[%q]", path, k)); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// project converts an arbitrary Go value into the generic JSON tree
// (map[string]any / []any / json.Number / ...) via encoding/json.
func project(v any, path string) (any, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, unrepresentable(path, "%T: %v", v, err)
	}
	return decodeJSON(buf.Bytes(), path)
}

func decodeJSON(data []byte, path string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, unrepresentable(path, "decode: %v", err)
	}
	return out, nil
}

// ToTree returns the generic JSON tree of v (maps, slices, json.Number,
// strings, bools, nil) after a canonical round trip. Useful for comparing
// values of different Go types by their canonical content.
func ToTree(v any) (any, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data, "$")
}
