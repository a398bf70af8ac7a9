package ids

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    ID
		wantErr bool
	}{
		{"canonical", "7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f", "7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f", false},
		{"upper case normalised", "7F2C1E4A-9B3D-4C5E-8F60-1A2B3C4D5E6F", "7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f", false},
		{"surrounding space", " 7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f ", "7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f", false},
		{"empty", "", "", true},
		{"object id shape", "507f1f77bcf86cd799439011", "", true},
		{"urn form", "urn:uuid:7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f", "", true},
		{"braces", "{7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5e6f}", "", true},
		{"bad hex", "7f2c1e4a-9b3d-4c5e-8f60-1a2b3c4d5ezz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalid", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_RoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse(New()) error = %v", err)
	}
	if parsed != id {
		t.Errorf("Parse(New()) = %q, want %q", parsed, id)
	}
	if FromUUID(id.UUID()) != id {
		t.Errorf("FromUUID(UUID()) did not round trip for %q", id)
	}
}

func TestUUID_UnvalidatedValues(t *testing.T) {
	for _, id := range []ID{"", "x", ID("not-a-uuid-at-all")} {
		var got uuid.UUID
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("UUID() panicked on %q: %v", id, r)
				}
			}()
			got = id.UUID()
		}()
		if got != uuid.Nil {
			t.Errorf("ID(%q).UUID() = %v, want uuid.Nil", id, got)
		}
	}
}
