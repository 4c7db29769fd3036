package backend

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeAdminID(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"string scalar", `"482193"`, "482193"},
		{"numeric scalar", `482193`, "482193"},
		{"array of string", `["482193"]`, "482193"},
		{"array of object", `[{"generate_admin_id":"482193"}]`, "482193"},
		{"keyed object", `{"admin_id":"482193"}`, "482193"},
		{"single unknown key", `{"result":"482193"}`, "482193"},
		{"padded", `"  482193 "`, "482193"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := NormalizeAdminID(json.RawMessage(c.raw))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestNormalizeAdminIDEmpty(t *testing.T) {
	for _, raw := range []string{``, `null`, `""`, `[]`, `{}`, `{"a":"1","b":"2"}`, `[null]`} {
		_, err := NormalizeAdminID(json.RawMessage(raw))
		if !errors.Is(err, ErrEmptyAdminID) {
			t.Errorf("NormalizeAdminID(%q) err = %v, want ErrEmptyAdminID", raw, err)
		}
	}
}

func TestNormalizeAdminIDMalformed(t *testing.T) {
	_, err := NormalizeAdminID(json.RawMessage(`{"admin_id":`))
	if err == nil || errors.Is(err, ErrEmptyAdminID) {
		t.Errorf("err = %v, want decode error", err)
	}
}
