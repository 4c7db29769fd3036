package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyAdminID is returned when the generator yields nothing usable.
var ErrEmptyAdminID = errors.New("admin id generator returned no value")

// adminIDKeys are the object keys the generator has been seen to use.
var adminIDKeys = []string{"generate_admin_id", "admin_id", "id", "value"}

// NormalizeAdminID extracts the generated admin identifier from an RPC
// result that may be a scalar, a single-element array, or an object.
func NormalizeAdminID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrEmptyAdminID
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode admin id: %w", err)
	}

	id := extractAdminID(v)
	if id == "" {
		return "", ErrEmptyAdminID
	}
	return id, nil
}

func extractAdminID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) == 0 {
			return ""
		}
		return extractAdminID(t[0])
	case map[string]any:
		for _, k := range adminIDKeys {
			if val, ok := t[k]; ok {
				return extractAdminID(val)
			}
		}
		if len(t) == 1 {
			for _, val := range t {
				return extractAdminID(val)
			}
		}
	}
	return ""
}
