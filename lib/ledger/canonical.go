package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON serializes v deterministically: object keys are emitted in
// sorted order at every nesting level, and HTML escaping is disabled so
// the output matches what JavaScript stable-stringify produces. Entry
// hashes are computed over this encoding, so it must never change.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
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
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case nil, string, float64, bool, int, int64:
		return writeScalar(buf, val)
	default:
		// Structs and other composite values take a round trip through
		// encoding/json so only plain JSON shapes remain.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("ledger: can't canonicalize %T: %w", v, err)
		}

		var decoded any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return fmt.Errorf("ledger: can't canonicalize %T: %w", v, err)
		}

		return writeCanonical(buf, decoded)
	}
}

func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("ledger: can't encode scalar: %w", err)
	}

	// json.Encoder appends a newline after every value.
	buf.Truncate(buf.Len() - 1)
	return nil
}
