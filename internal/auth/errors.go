package auth

import (
	"errors"
	"time"
)

// Token verification failures are classified so callers can react per class:
// an expired access token may trigger a refresh, a bad signature never should.
var (
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenTypeUnsupported  = errors.New("token signing algorithm is unsupported")
	ErrTokenClaimsEmpty      = errors.New("token claims are empty")
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountDisabled     = errors.New("account is disabled")
)

type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked"
}
