package user

import (
	"strings"
	"testing"
)

func TestAppendMembership(t *testing.T) {
	ms := []Membership{{OrgID: "org-1", Role: RoleOwner, Status: StatusActive}}

	out, added := AppendMembership(ms, Membership{OrgID: "org-2", Role: RoleMember, Status: StatusPending})
	if !added {
		t.Fatal("expected membership to be added")
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(out))
	}
	if len(ms) != 1 {
		t.Errorf("original slice mutated, got %d entries", len(ms))
	}

	// At most one entry per (user, org) pair.
	out2, added := AppendMembership(out, Membership{OrgID: "org-2", Role: RoleAdmin, Status: StatusActive})
	if added {
		t.Error("expected duplicate org membership to be rejected")
	}
	if len(out2) != 2 {
		t.Errorf("expected list unchanged, got %d entries", len(out2))
	}
}

func TestRemoveMembership(t *testing.T) {
	ms := []Membership{
		{OrgID: "org-1", Role: RoleOwner, Status: StatusActive},
		{OrgID: "org-2", Role: RoleMember, Status: StatusPending},
		{OrgID: "org-3", Role: RoleAdmin, Status: StatusActive},
	}

	out, removed := RemoveMembership(ms, "org-2")
	if !removed {
		t.Fatal("expected removal")
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(out))
	}
	if MembershipFor(out, "org-2") >= 0 {
		t.Error("org-2 still present after removal")
	}

	// Removing a missing entry is a no-op.
	out2, removed := RemoveMembership(out, "org-9")
	if removed {
		t.Error("expected no removal for unknown org")
	}
	if len(out2) != 2 {
		t.Errorf("expected list unchanged, got %d entries", len(out2))
	}
}

func TestActivateMembership(t *testing.T) {
	ms := []Membership{{OrgID: "org-1", Role: RoleMember, Status: StatusPending}}

	if !ActivateMembership(ms, "org-1") {
		t.Fatal("expected activation")
	}
	if ms[0].Status != StatusActive {
		t.Errorf("expected status active, got %q", ms[0].Status)
	}
	if ActivateMembership(ms, "org-9") {
		t.Error("expected activation of unknown org to fail")
	}
}

func TestNextActiveOrg(t *testing.T) {
	tests := []struct {
		name    string
		ms      []Membership
		exclude string
		want    string
	}{
		{
			name:    "falls back to first remaining",
			ms:      []Membership{{OrgID: "org-1"}, {OrgID: "org-2"}},
			exclude: "org-1",
			want:    "org-2",
		},
		{
			name:    "empty when nothing remains",
			ms:      []Membership{{OrgID: "org-1"}},
			exclude: "org-1",
			want:    "",
		},
		{
			name:    "empty list",
			ms:      nil,
			exclude: "org-1",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextActiveOrg(tt.ms, tt.exclude); got != tt.want {
				t.Errorf("NextActiveOrg() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanManage(t *testing.T) {
	u := &User{Memberships: []Membership{
		{OrgID: "org-1", Role: RoleOwner, Status: StatusActive},
		{OrgID: "org-2", Role: RoleAdmin, Status: StatusActive},
		{OrgID: "org-3", Role: RoleMember, Status: StatusActive},
	}}

	if !u.CanManage("org-1") {
		t.Error("owner should manage org-1")
	}
	if !u.CanManage("org-2") {
		t.Error("admin should manage org-2")
	}
	if u.CanManage("org-3") {
		t.Error("member should not manage org-3")
	}
	if u.CanManage("org-4") {
		t.Error("non-member should not manage org-4")
	}
}

func TestRandomColor(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := RandomColor()
		if len(c) != 7 || c[0] != '#' {
			t.Fatalf("bad color format %q", c)
		}
		if c != strings.ToLower(c) {
			t.Fatalf("color not lowercase: %q", c)
		}
		if avoidColors[c] {
			t.Fatalf("avoid-list color returned: %q", c)
		}
	}
}

func TestCheckPasswordPlaceholder(t *testing.T) {
	// Invitation placeholders have no password and must never authenticate.
	u := &User{}
	if CheckPassword(u, "") {
		t.Error("empty hash matched empty password")
	}
	if CheckPassword(u, "anything") {
		t.Error("empty hash matched a password")
	}
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("u", "id, email,\n\tname")
	want := "u.id, u.email, u.name"
	if got != want {
		t.Errorf("prefixColumns() = %q, want %q", got, want)
	}
}
