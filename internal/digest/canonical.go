// Package digest produces stable, order-independent digests of Go values.
//
// # Persistence Contract
//
// A digest is the sha256 of the value's canonical JSON encoding:
//
//   - the value is first encoded with encoding/json (struct tags apply)
//   - object keys are sorted bytewise, recursively
//   - no insignificant whitespace is emitted
//   - numbers keep the shortest decimal form produced by encoding/json
//   - strings use encoding/json escaping
//
// Cache keys and constraint-set digests are built on this encoding, so
// changing it invalidates every persisted cache entry. Any change must
// bump KeyFormatVersion.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// KeyFormatVersion identifies the canonical encoding revision.
// It is mixed into every cache key.
const KeyFormatVersion = 1

// Size is the length in bytes of a digest.
const Size = sha256.Size

// CanonicalJSON returns the canonical JSON encoding of v.
func CanonicalJSON(v any) ([]byte, error) {
	input, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sum returns the sha256 of the canonical JSON encoding of v.
func Sum(v any) ([Size]byte, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return [Size]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}

// Hex returns Sum(v) as "sha256:<hex>".
func Hex(v any) (string, error) {
	sum, err := Sum(v)
	if err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func writeCanonical(w io.Writer, v any) error {
	switch vv := v.(type) {
	case nil:
		_, err := io.WriteString(w, "null")
		return err
	case bool:
		if vv {
			_, err := io.WriteString(w, "true")
			return err
		}
		_, err := io.WriteString(w, "false")
		return err
	case string:
		b, err := json.Marshal(vv)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case json.Number:
		return writeNumber(w, vv.String())
	case []any:
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		for i, item := range vv {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			if err := writeCanonical(w, item); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "]")
		return err
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		for i, k := range keys {
			if i > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			if _, err := w.Write(kb); err != nil {
				return err
			}
			if _, err := io.WriteString(w, ":"); err != nil {
				return err
			}
			if err := writeCanonical(w, vv[k]); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "}")
		return err
	default:
		return fmt.Errorf("canonicalize: unexpected type %T", v)
	}
}

func writeNumber(w io.Writer, n string) error {
	if _, err := strconv.ParseFloat(n, 64); err != nil {
		return fmt.Errorf("invalid number %q: %w", n, err)
	}
	_, err := io.WriteString(w, n)
	return err
}
