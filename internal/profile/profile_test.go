package profile

import (
	"testing"

	"github.com/orrn/labelstream/internal/config"
)

func TestLookup_Defaults(t *testing.T) {
	r, err := NewResolver(nil, DefaultProfile)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	tests := []struct {
		device string
		want   Profile
	}{
		{"B32-C1234", Profile{Mode: 2, Density: 8, Multiple: 11.81}},
		{"Z401-0001", Profile{Mode: 2, Density: 8, Multiple: 11.81}},
		{"T8-PRO", Profile{Mode: 2, Density: 8, Multiple: 11.81}},
		{"M2-H", Profile{Mode: 2, Density: 3, Multiple: 11.81}},
		{"EP2M-1", Profile{Mode: 2, Density: 3, Multiple: 11.81}},
		{"B21_Pro-22", Profile{Mode: 1, Density: 3, Multiple: 11.81}},
		{"B21-1234", DefaultProfile},
		{"xB32", DefaultProfile},
		{"", DefaultProfile},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			if got := r.Lookup(tt.device); got != tt.want {
				t.Errorf("Lookup(%q) = %+v, want %+v", tt.device, got, tt.want)
			}
		})
	}
}

func TestLookup_FirstMatchWins(t *testing.T) {
	r, err := NewResolver([]config.ProfileRule{
		{Pattern: "^B", Mode: 9, Density: 9, Multiple: 1},
		{Pattern: "^B32", Mode: 2, Density: 8, Multiple: 11.81},
	}, DefaultProfile)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Lookup("B32"); got.Mode != 9 {
		t.Errorf("Lookup(B32) = %+v, want first rule", got)
	}
}

func TestNewResolver_InvalidPattern(t *testing.T) {
	if _, err := NewResolver([]config.ProfileRule{{Pattern: "(", Multiple: 1}}, DefaultProfile); err == nil {
		t.Fatal("NewResolver() should reject an invalid pattern")
	}
}
