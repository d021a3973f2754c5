package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"inventory-auth/internal/observability"
)

const minSecretBytes = 32

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenCodec signs and verifies HS256 bearer tokens. The signing key is
// derived once at construction and never mutated, so a single codec is safe
// for unbounded concurrent use.
type TokenCodec struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *observability.Logger
	now        func() time.Time
}

func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration, logger *observability.Logger) (*TokenCodec, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretBytes)
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}

	return &TokenCodec{
		key:        []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *TokenCodec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken embeds the principal's identity and bare role codes.
func (c *TokenCodec) IssueAccessToken(principal *Principal, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":             principal.Email,
		claimAccountID:    principal.ID,
		claimTenantID:     principal.TenantID,
		claimEmployeeCode: principal.EmployeeCode,
		claimDisplayName:  principal.DisplayName,
		claimRoles:        principal.Roles(),
		"iat":             now.Unix(),
		"exp":             now.Add(c.accessTTL).Unix(),
	}

	return c.sign(claims)
}

// IssueRefreshToken carries identity only. Roles and display name are
// deliberately omitted: a refresh token exists to mint a new access token
// against a freshly rebuilt principal, never to derive authorization.
func (c *TokenCodec) IssueRefreshToken(principal *Principal, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":          principal.Email,
		claimAccountID: principal.ID,
		claimTenantID:  principal.TenantID,
		claimTokenType: tokenTypeRefresh,
		"iat":          now.Unix(),
		"exp":          now.Add(c.refreshTTL).Unix(),
	}

	return c.sign(claims)
}

func (c *TokenCodec) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, structure and expiry, then projects the payload
// into a ClaimSet. Each failure class maps to its own sentinel error.
func (c *TokenCodec) Verify(tokenStr string) (ClaimSet, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return ClaimSet{}, ErrTokenClaimsEmpty
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenTypeUnsupported
		}
		return c.key, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		return ClaimSet{}, classifyParseError(err)
	}

	return claimSetFromMap(claims)
}

// IsTokenValid collapses every failure class to false, logging the
// distinguishing reason so failed probes stay auditable.
func (c *TokenCodec) IsTokenValid(tokenStr string) bool {
	if _, err := c.Verify(tokenStr); err != nil {
		if c.logger != nil {
			c.logger.Warn("token_rejected", map[string]any{"reason": err.Error()})
		}
		return false
	}
	return true
}

func (c *TokenCodec) IsAccessToken(tokenStr string) bool {
	claims, err := c.Verify(tokenStr)
	return err == nil && !claims.IsRefresh()
}

func (c *TokenCodec) IsRefreshToken(tokenStr string) bool {
	claims, err := c.Verify(tokenStr)
	return err == nil && claims.IsRefresh()
}

// Claim accessors re-run full verification: no unverified peek is exposed.

func (c *TokenCodec) Email(tokenStr string) (string, error) {
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (c *TokenCodec) AccountID(tokenStr string) (int64, error) {
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return 0, err
	}
	return claims.AccountID, nil
}

func (c *TokenCodec) TenantID(tokenStr string) (int64, error) {
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return 0, err
	}
	return claims.TenantID, nil
}

func (c *TokenCodec) ExpiresAt(tokenStr string) (time.Time, error) {
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrTokenTypeUnsupported):
		return fmt.Errorf("%w: %v", ErrTokenTypeUnsupported, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
