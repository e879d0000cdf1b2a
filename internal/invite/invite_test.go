package invite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/eplan/internal/database"
	"github.com/hitoshi/eplan/internal/docstore"
)

func newTestManager(t *testing.T, secret string) *Manager {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := database.MigrateSQLite(db); err != nil {
		db.Close()
		t.Fatalf("MigrateSQLite: %v", err)
	}
	store := docstore.NewSQLite(db)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return NewManager(secret, time.Hour, store)
}

func TestManager_IssueAndVerify(t *testing.T) {
	m := newTestManager(t, "test-secret-that-is-long-enough-123")

	token, expiresAt, err := m.Issue("admin-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiresAt = %v, want future", expiresAt)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.IssuedBy != "admin-1" {
		t.Errorf("IssuedBy = %q", claims.IssuedBy)
	}
	if claims.ID == "" {
		t.Error("token ID should be set")
	}
}

func TestManager_Verify_Rejects(t *testing.T) {
	m := newTestManager(t, "secret-a-secret-a-secret-a-secret-a")
	other := newTestManager(t, "secret-b-secret-b-secret-b-secret-b")

	foreign, _, err := other.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestManager_Verify_Expired(t *testing.T) {
	m := newTestManager(t, "test-secret-that-is-long-enough-123")
	issuedAt := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issuedAt }

	token, _, err := m.Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	m.now = time.Now
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify expired error = %v, want ErrInvalidToken", err)
	}
}

func TestManager_Redeem_SingleUse(t *testing.T) {
	m := newTestManager(t, "test-secret-that-is-long-enough-123")
	ctx := context.Background()

	token, _, _ := m.Issue("admin")

	if _, err := m.Redeem(ctx, token, "user-1"); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if _, err := m.Redeem(ctx, token, "user-2"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Errorf("second Redeem error = %v, want ErrAlreadyRedeemed", err)
	}
}

func TestManager_Disabled(t *testing.T) {
	m := newTestManager(t, "")
	if m.Enabled() {
		t.Fatal("manager with empty secret should be disabled")
	}
	if _, _, err := m.Issue("admin"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Issue error = %v, want ErrDisabled", err)
	}
	if _, err := m.Verify("x"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Verify error = %v, want ErrDisabled", err)
	}
}
