// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseSession(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"sess-1", 1, false},
		{"sess-18446744073709551615", 18446744073709551615, false},
		{"sess-0", 0, true},
		{"", 0, true},
		{"res-1", 0, true},
		{"sess-", 0, true},
		{"sess--4", 0, true},
		{"sess-12a", 0, true},
	}

	for _, test := range tests {
		session, err := ParseSession(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseSession(%q): err=%v, wantErr=%v", test.input, err, test.wantErr)
			continue
		}
		if err == nil && session.Uint64() != test.want {
			t.Errorf("ParseSession(%q) = %d, want %d", test.input, session.Uint64(), test.want)
		}
	}
}

func TestParseResource(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"res-7", false},
		{"res-0", true},
		{"sess-7", true},
		{"res-x", true},
	}

	for _, test := range tests {
		_, err := ParseResource(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseResource(%q): err=%v, wantErr=%v", test.input, err, test.wantErr)
		}
	}
}

func TestZeroValuesRenderEmpty(t *testing.T) {
	if (Session{}).String() != "" {
		t.Errorf("zero Session String() = %q, want empty", Session{}.String())
	}
	if (Resource{}).String() != "" {
		t.Errorf("zero Resource String() = %q, want empty", Resource{}.String())
	}
	if (Blob{}).String() != "" {
		t.Errorf("zero Blob String() = %q, want empty", Blob{}.String())
	}
}

func TestIdentifierJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Session  Session  `json:"session"`
		Resource Resource `json:"resource"`
		Blob     Blob     `json:"blob"`
	}

	original := wrapper{
		Session:  MustParseSession("sess-3"),
		Resource: MustParseResource("res-99"),
		Blob:     NewBlob(),
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}

func TestParseBlob(t *testing.T) {
	blob := NewBlob()
	parsed, err := ParseBlob(blob.String())
	if err != nil {
		t.Fatalf("ParseBlob(%q): %v", blob.String(), err)
	}
	if parsed != blob {
		t.Errorf("ParseBlob round trip = %v, want %v", parsed, blob)
	}

	for _, bad := range []string{"", "blob-", "blob-not-a-uuid", "blob-00000000-0000-0000-0000-000000000000", "sess-1"} {
		if _, err := ParseBlob(bad); err == nil {
			t.Errorf("ParseBlob(%q) should fail", bad)
		}
	}
}

func TestNewBlobIsUnique(t *testing.T) {
	seen := make(map[Blob]bool)
	for range 100 {
		blob := NewBlob()
		if seen[blob] {
			t.Fatalf("NewBlob returned duplicate %v", blob)
		}
		seen[blob] = true
	}
}
