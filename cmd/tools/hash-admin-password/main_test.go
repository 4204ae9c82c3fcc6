package main

import (
	"strings"
	"testing"

	"contenthub/internal/auth"
)

func TestHashPasswordRejectsShortPasswords(t *testing.T) {
	if _, err := hashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestHashPasswordVerifiesWithCredentials(t *testing.T) {
	hash, err := hashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format %q", hash)
	}
	creds, err := auth.NewCredentials("admin", "", hash)
	if err != nil {
		t.Fatalf("NewCredentials returned error: %v", err)
	}
	if err := creds.Verify("admin", "correct horse battery"); err != nil {
		t.Fatalf("expected hash to verify, got %v", err)
	}
}

func TestReadLineTrimsNewline(t *testing.T) {
	got, err := readLine(strings.NewReader("s3cret-value\r\nignored\n"))
	if err != nil {
		t.Fatalf("readLine returned error: %v", err)
	}
	if got != "s3cret-value" {
		t.Fatalf("unexpected line %q", got)
	}

	got, err = readLine(strings.NewReader("no-newline"))
	if err != nil {
		t.Fatalf("readLine returned error: %v", err)
	}
	if got != "no-newline" {
		t.Fatalf("unexpected line %q", got)
	}
}
