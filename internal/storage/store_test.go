package storage

import "testing"

func TestIDFromRef(t *testing.T) {
	id := "0b8f4c1e-9a1d-4f6e-8c2a-1d3e5f7a9b0c"
	ref := RefPath(id)

	got, ok := IDFromRef(ref)
	if !ok || got != id {
		t.Errorf("IDFromRef(%q) = %q, %v; want %q, true", ref, got, ok, id)
	}
}

func TestIDFromRefRejectsNonReferences(t *testing.T) {
	for _, ref := range []string{
		"",
		"https://cdn.invalid/logo.png",
		"/getImage?storageId=",
		"/somewhere/else",
	} {
		if id, ok := IDFromRef(ref); ok {
			t.Errorf("IDFromRef(%q) = %q, true; want false", ref, id)
		}
	}
}
