package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUser_IsLocked(t *testing.T) {
	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	tests := []struct {
		name        string
		lockedUntil *time.Time
		want        bool
	}{
		{
			name:        "not locked (nil)",
			lockedUntil: nil,
			want:        false,
		},
		{
			name:        "locked (future time)",
			lockedUntil: &future,
			want:        true,
		},
		{
			name:        "not locked (past time)",
			lockedUntil: &past,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &User{
				ID:          uuid.New(),
				Email:       "test@example.com",
				LockedUntil: tt.lockedUntil,
			}

			if got := user.IsLocked(); got != tt.want {
				t.Errorf("IsLocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_DisplayName(t *testing.T) {
	name := "Ada Lovelace"
	empty := ""

	tests := []struct {
		name string
		user User
		want string
	}{
		{"name set", User{Email: "ada@example.com", Name: &name}, "Ada Lovelace"},
		{"name empty", User{Email: "ada@example.com", Name: &empty}, "ada@example.com"},
		{"name nil", User{Email: "ada@example.com"}, "ada@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAuthMethodKind(t *testing.T) {
	tests := []struct {
		in      string
		want    AuthMethodKind
		wantErr bool
	}{
		{"password", AuthMethodPassword, false},
		{"email", AuthMethodPassword, false},
		{"federated", AuthMethodFederated, false},
		{"google", AuthMethodFederated, false},
		{"oauth", AuthMethodFederated, false},
		{"", "", true},
		{"totp", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuthMethodKind(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAuthMethod) {
					t.Fatalf("ParseAuthMethodKind(%q) error = %v, want ErrInvalidAuthMethod", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAuthMethodKind(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAuthMethodKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !got.Valid() {
				t.Errorf("%q should be valid", got)
			}
		})
	}
}

func TestDurabilityFromRemember(t *testing.T) {
	if got := DurabilityFromRemember(true); got != DurabilityRemembered {
		t.Errorf("DurabilityFromRemember(true) = %q", got)
	}
	if got := DurabilityFromRemember(false); got != DurabilityEphemeral {
		t.Errorf("DurabilityFromRemember(false) = %q", got)
	}
}

func TestSession_IsValid(t *testing.T) {
	revoked := time.Now()
	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"active", Session{ExpiresAt: time.Now().Add(time.Hour)}, true},
		{"expired", Session{ExpiresAt: time.Now().Add(-time.Hour)}, false},
		{"revoked", Session{ExpiresAt: time.Now().Add(time.Hour), RevokedAt: &revoked}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
