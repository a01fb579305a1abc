package org

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"  Acme   Corp  ", "acme-corp"},
		{"ACME", "acme"},
		{"One Two  Three", "one-two-three"},
		{"already-kebab", "already-kebab"},
		{"Tabs\tand\nnewlines", "tabs-and-newlines"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.name); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsReservedSlug(t *testing.T) {
	reserved := []string{
		"organization", "organizations", "onboarding", "no-access",
		"signin", "signup", "document", "api", "getimage",
		"getImage", "API", "Signin",
	}
	for _, slug := range reserved {
		if !IsReservedSlug(slug) {
			t.Errorf("expected %q to be reserved", slug)
		}
	}

	allowed := []string{"acme", "my-org", "get-image", "org"}
	for _, slug := range allowed {
		if IsReservedSlug(slug) {
			t.Errorf("expected %q to be allowed", slug)
		}
	}
}
