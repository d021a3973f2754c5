package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimAccountID    = "userId"
	claimTenantID     = "tenantId"
	claimEmployeeCode = "employeeCode"
	claimDisplayName  = "displayName"
	claimRoles        = "roles"
	claimTokenType    = "tokenType"

	tokenTypeRefresh = "refresh"
	tokenTypeAccess  = "access"
)

// ClaimSet is the strongly typed projection of a verified token payload.
// It is produced fresh per verification; nothing outside the codec reads
// the raw claim map.
type ClaimSet struct {
	Subject      string
	AccountID    int64
	TenantID     int64
	EmployeeCode string
	DisplayName  string
	Roles        []string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// IsRefresh reports whether the token carried the refresh marker.
// Absence of the marker means access token.
func (c ClaimSet) IsRefresh() bool {
	return c.TokenType == tokenTypeRefresh
}

func claimSetFromMap(claims jwt.MapClaims) (ClaimSet, error) {
	set := ClaimSet{
		Subject:      stringClaim(claims, "sub"),
		AccountID:    intClaim(claims, claimAccountID),
		TenantID:     intClaim(claims, claimTenantID),
		EmployeeCode: stringClaim(claims, claimEmployeeCode),
		DisplayName:  stringClaim(claims, claimDisplayName),
		TokenType:    stringClaim(claims, claimTokenType),
	}

	if raw, ok := claims[claimRoles].([]any); ok {
		roles := make([]string, 0, len(raw))
		for _, entry := range raw {
			if code, ok := entry.(string); ok {
				roles = append(roles, code)
			}
		}
		set.Roles = roles
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		set.IssuedAt = iat.Time
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ClaimSet{}, ErrTokenMalformed
	}
	set.ExpiresAt = exp.Time

	if set.Subject == "" || set.AccountID == 0 {
		return ClaimSet{}, ErrTokenClaimsEmpty
	}
	// An explicit marker must be a known value; absence means access.
	if set.TokenType != "" && set.TokenType != tokenTypeRefresh && set.TokenType != tokenTypeAccess {
		return ClaimSet{}, ErrTokenMalformed
	}

	return set, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}

func intClaim(claims jwt.MapClaims, name string) int64 {
	switch value := claims[name].(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	default:
		return 0
	}
}
