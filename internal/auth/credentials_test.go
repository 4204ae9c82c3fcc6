package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestCredentialsPlainPassword(t *testing.T) {
	creds, err := NewCredentials("editor", "s3cret-pass", "")
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	if err := creds.Verify("editor", "s3cret-pass"); err != nil {
		t.Fatalf("expected credentials to verify, got %v", err)
	}
	for _, tc := range []struct{ user, pass string }{
		{"editor", "wrong"},
		{"Editor", "s3cret-pass"},
		{"", ""},
	} {
		if err := creds.Verify(tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials for %q/%q, got %v", tc.user, tc.pass, err)
		}
	}
}

func TestCredentialsPBKDF2Hash(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$120000$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	creds, err := NewCredentials("editor", "ignored", hash)
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	if err := creds.Verify("editor", "s3cret-pass"); err != nil {
		t.Fatalf("expected hash to verify, got %v", err)
	}
	if err := creds.Verify("editor", "ignored"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected plain password to be ignored when a hash is set, got %v", err)
	}
}

func TestCredentialsBcryptHash(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	creds, err := NewCredentials("editor", "", string(hashed))
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	if err := creds.Verify("editor", "s3cret-pass"); err != nil {
		t.Fatalf("expected bcrypt hash to verify, got %v", err)
	}
	if err := creds.Verify("editor", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNewCredentialsValidation(t *testing.T) {
	if _, err := NewCredentials("", "pass", ""); err == nil {
		t.Fatal("expected error for missing username")
	}
	if _, err := NewCredentials("editor", "", ""); err == nil {
		t.Fatal("expected error for missing password")
	}
	if _, err := NewCredentials("editor", "", "md5$abc"); err == nil {
		t.Fatal("expected error for unsupported hash")
	}
}
