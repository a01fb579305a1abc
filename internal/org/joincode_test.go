package org

import (
	"strings"
	"testing"
)

func TestNewJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewJoinCode()
		if len(code) != joinCodeLength {
			t.Fatalf("expected %d characters, got %q", joinCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(joinCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Errorf("codes look non-random: %d distinct out of 100", len(seen))
	}
}

func TestJoinCodeMatches(t *testing.T) {
	tests := []struct {
		current   string
		submitted string
		want      bool
	}{
		{"a1b2c3d4", "a1b2c3d4", true},
		{"a1b2c3d4", "A1B2C3D4", true},
		{"a1b2c3d4", "wrong000", false},
		{"", "", false},
		{"", "a1b2c3d4", false},
	}
	for _, tt := range tests {
		if got := JoinCodeMatches(tt.current, tt.submitted); got != tt.want {
			t.Errorf("JoinCodeMatches(%q, %q) = %v, want %v", tt.current, tt.submitted, got, tt.want)
		}
	}
}
