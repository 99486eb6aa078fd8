package main

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		keep bool
	}{
		{"", true},
		{"${OPENAI_API_KEY}", true},
		{"sk-live-1234567890abcdef", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := maskSecret(tt.in)
			if tt.keep && got != tt.in {
				t.Errorf("maskSecret(%q) = %q, want unchanged", tt.in, got)
			}
			if !tt.keep && got == tt.in {
				t.Errorf("maskSecret(%q) left the key visible", tt.in)
			}
		})
	}
}
