package valuestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/KeyviDev/keyvi-sub001/internal/varint"
)

// jsonTag identifies the shape of a packed JSON node. The format is a
// compact recursive binary object tree (spec §4.4): a tag byte followed
// by a tag-specific payload.
type jsonTag byte

const (
	jTagNull    jsonTag = 0
	jTagFalse   jsonTag = 1
	jTagTrue    jsonTag = 2
	jTagNumber  jsonTag = 3 // varint len + original numeric text, verbatim
	jTagString  jsonTag = 4 // varint len + utf8 bytes
	jTagArray   jsonTag = 5 // varint count + elements
	jTagObject  jsonTag = 6 // varint count + (key, value) pairs
	jTagFloat64 jsonTag = 7 // 8 bytes, IEEE-754 bits; only non-finite values use this tag
)

// packJSON parses text as JSON and packs it into the binary tree format.
// Returns ok=false (never an error) when text is not valid JSON, per
// spec §4.4: parse failure falls back to storing the opaque string.
func packJSON(text string) (packed []byte, ok bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}

	if dec.More() {
		return nil, false // trailing garbage after the JSON value
	}

	var buf []byte

	buf = packValue(buf, v)

	return buf, true
}

func packValue(buf []byte, v interface{}) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, byte(jTagNull))
	case bool:
		if val {
			return append(buf, byte(jTagTrue))
		}

		return append(buf, byte(jTagFalse))
	case json.Number:
		return packText(buf, jTagNumber, string(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			out := append(buf, byte(jTagFloat64))
			var bits [8]byte

			putFloat64(bits[:], val)

			return append(out, bits[:]...)
		}

		return packText(buf, jTagNumber, strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		return packText(buf, jTagString, val)
	case []interface{}:
		buf = append(buf, byte(jTagArray))
		buf = varint.Put(buf, uint64(len(val)))

		for _, elem := range val {
			buf = packValue(buf, elem)
		}

		return buf
	case map[string]interface{}:
		buf = append(buf, byte(jTagObject))
		buf = varint.Put(buf, uint64(len(val)))

		for k, elem := range val {
			buf = packText(buf, jTagString, k)
			buf = packValue(buf, elem)
		}

		return buf
	default:
		// Unreachable for trees produced by encoding/json with UseNumber.
		return packText(buf, jTagString, fmt.Sprintf("%v", val))
	}
}

func packText(buf []byte, tag jsonTag, s string) []byte {
	buf = append(buf, byte(tag))
	buf = varint.Put(buf, uint64(len(s)))

	return append(buf, s...)
}

func putFloat64(dst []byte, f float64) {
	bits := math.Float64bits(f)
	for i := range dst {
		dst[i] = byte(bits >> (8 * i))
	}
}

func getFloat64(src []byte) float64 {
	var bits uint64
	for i, b := range src {
		bits |= uint64(b) << (8 * i)
	}

	return math.Float64frombits(bits)
}

// unpackJSON reverses [packJSON], rendering the tree back to JSON text.
// NaN/Inf are rendered as bare `NaN`/`Infinity`/`-Infinity` tokens
// (invalid strict JSON, but required by spec §4.4 and accepted by
// keyvi's original JSON consumers).
func unpackJSON(buf []byte) (string, error) {
	v, rest, err := unpackValue(buf)
	if err != nil {
		return "", err
	}

	if len(rest) != 0 {
		return "", fmt.Errorf("valuestore: %d trailing bytes after packed json", len(rest))
	}

	var out bytes.Buffer

	if err := writeJSON(&out, v); err != nil {
		return "", err
	}

	return out.String(), nil
}

func unpackValue(buf []byte) (interface{}, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, fmt.Errorf("valuestore: truncated packed json")
	}

	tag := jsonTag(buf[0])
	buf = buf[1:]

	switch tag {
	case jTagNull:
		return nil, buf, nil
	case jTagFalse:
		return false, buf, nil
	case jTagTrue:
		return true, buf, nil
	case jTagFloat64:
		if len(buf) < 8 {
			return nil, nil, fmt.Errorf("valuestore: truncated float64 in packed json")
		}

		return getFloat64(buf[:8]), buf[8:], nil
	case jTagNumber, jTagString:
		s, rest, err := unpackText(buf)
		if err != nil {
			return nil, nil, err
		}

		if tag == jTagNumber {
			return json.Number(s), rest, nil
		}

		return s, rest, nil
	case jTagArray:
		n, rest, err := unpackCount(buf)
		if err != nil {
			return nil, nil, err
		}

		arr := make([]interface{}, 0, n)

		for i := uint64(0); i < n; i++ {
			var elem interface{}

			elem, rest, err = unpackValue(rest)
			if err != nil {
				return nil, nil, err
			}

			arr = append(arr, elem)
		}

		return arr, rest, nil
	case jTagObject:
		n, rest, err := unpackCount(buf)
		if err != nil {
			return nil, nil, err
		}

		obj := make(map[string]interface{}, n)

		for i := uint64(0); i < n; i++ {
			var key string

			key, rest, err = unpackText(rest)
			if err != nil {
				return nil, nil, err
			}

			var val interface{}

			val, rest, err = unpackValue(rest)
			if err != nil {
				return nil, nil, err
			}

			obj[key] = val
		}

		return obj, rest, nil
	default:
		return nil, nil, fmt.Errorf("valuestore: unknown packed json tag %d", tag)
	}
}

func unpackCount(buf []byte) (uint64, []byte, error) {
	n, consumed, err := varint.Get(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("valuestore: packed json count: %w", err)
	}

	return n, buf[consumed:], nil
}

func unpackText(buf []byte) (string, []byte, error) {
	n, consumed, err := varint.Get(buf)
	if err != nil {
		return "", nil, fmt.Errorf("valuestore: packed json text length: %w", err)
	}

	buf = buf[consumed:]
	if uint64(len(buf)) < n {
		return "", nil, fmt.Errorf("valuestore: truncated packed json text")
	}

	return string(buf[:n]), buf[n:], nil
}

func writeJSON(out *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		out.WriteString("null")
	case bool:
		if val {
			out.WriteString("true")
		} else {
			out.WriteString("false")
		}
	case json.Number:
		out.WriteString(string(val))
	case float64:
		switch {
		case math.IsNaN(val):
			out.WriteString("NaN")
		case math.IsInf(val, 1):
			out.WriteString("Infinity")
		case math.IsInf(val, -1):
			out.WriteString("-Infinity")
		default:
			out.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("valuestore: marshal string: %w", err)
		}

		out.Write(b)
	case []interface{}:
		out.WriteByte('[')

		for i, elem := range val {
			if i > 0 {
				out.WriteByte(',')
			}

			if err := writeJSON(out, elem); err != nil {
				return err
			}
		}

		out.WriteByte(']')
	case map[string]interface{}:
		out.WriteByte('{')

		i := 0

		for k, elem := range val {
			if i > 0 {
				out.WriteByte(',')
			}

			i++

			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("valuestore: marshal key: %w", err)
			}

			out.Write(kb)
			out.WriteByte(':')

			if err := writeJSON(out, elem); err != nil {
				return err
			}
		}

		out.WriteByte('}')
	default:
		return fmt.Errorf("valuestore: cannot serialize %T", v)
	}

	return nil
}
