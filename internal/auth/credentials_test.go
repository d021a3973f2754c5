package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}

	verifier := BcryptVerifier{}
	if !verifier.Verify(hash, "correct horse") {
		t.Fatal("expected matching password to verify")
	}
	if verifier.Verify(hash, "wrong password") {
		t.Fatal("expected mismatched password to fail")
	}
	if verifier.Verify(nil, "anything") {
		t.Fatal("expected missing hash to fail")
	}
}
