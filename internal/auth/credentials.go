package auth

import "golang.org/x/crypto/bcrypt"

// BcryptVerifier checks raw credentials against stored bcrypt hashes.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
