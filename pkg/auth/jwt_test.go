package auth

import (
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	valid, err := NewAccessToken("u-1", "jane@example.com", RoleVendor, "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	expired, err := NewAccessToken("u-1", "jane@example.com", RoleVendor, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"valid", valid, true},
		{"expired", expired, false},
		{"empty", "", false},
		{"garbage", "not.a.jwt", false},
		{"two segments", "abc.def", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := Decode(tt.token, time.Now())
			if (u != nil) != tt.wantOK {
				t.Fatalf("Decode ok=%v, want %v", u != nil, tt.wantOK)
			}
			if u != nil && (u.UserID != "u-1" || u.Email != "jane@example.com" || u.Role != RoleVendor) {
				t.Fatalf("unexpected user %+v", u)
			}
		})
	}
}

func TestDecode_ExpiryBoundary(t *testing.T) {
	token, _ := NewAccessToken("u-1", "a@b.c", RoleCustomer, "s", time.Hour)
	u := Decode(token, time.Now())
	if u == nil {
		t.Fatal("expected user")
	}
	if Decode(token, u.ExpiresAt) != nil {
		t.Fatal("token must be invalid when expiry equals now")
	}
}

func TestUser_HasRole(t *testing.T) {
	var nilUser *User
	if nilUser.HasRole(RoleAdmin) {
		t.Fatal("nil user has no role")
	}
	u := &User{Role: RoleVendor}
	if !u.HasRole(RoleVendor, RoleAdmin) || u.HasRole(RoleCustomer) {
		t.Fatal("role check mismatch")
	}
}
