package auth

import (
	"strings"
	"testing"
	"time"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash must not equal plaintext")
	}
	if err := ComparePassword(hash, "hunter22"); err != nil {
		t.Errorf("expected match: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Error("expected mismatch error")
	}
}

func testTokenConfig() *TokenConfig {
	return &TokenConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "talkline",
		Audience: "talkline-clients",
		TTL:      time.Minute,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testTokenConfig()

	token, err := GenerateToken(cfg, 7, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 7 || claims.LoginID != "alice" || claims.Name != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	cfg := testTokenConfig()
	token, err := GenerateToken(cfg, 1, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := testTokenConfig()
	other.Secret = []byte("different")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	cfg := testTokenConfig()
	token, err := GenerateToken(cfg, 1, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := testTokenConfig()
	other.Issuer = "someone-else"
	if _, err := ValidateToken(other, token); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Fatalf("expected issuer rejection, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	cfg := testTokenConfig()
	cfg.TTL = -time.Minute
	token, err := GenerateToken(cfg, 1, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("expected expiry rejection")
	}
}
