package auth

import (
	"sort"
	"strings"
	"time"
)

// rolePrefix is how authorities are represented internally. It is applied
// and stripped only here; every outward surface (tokens, API responses)
// carries bare role codes.
const rolePrefix = "ROLE_"

// Principal is the authenticated identity built from an account snapshot.
// It is immutable after construction: its authority set is the account's
// role codes at build time, and a role change requires a rebuild.
type Principal struct {
	ID                  int64
	TenantID            int64
	Email               string
	EmployeeCode        string
	DisplayName         string
	Status              AccountStatus
	MustChangePassword  bool
	PasswordExpiresAt   *time.Time
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	LastLoginAt         *time.Time

	passwordHash []byte
	authorities  map[string]struct{}
}

// NewPrincipal maps an account snapshot into a Principal. Duplicate role
// codes collapse; the input is not mutated.
func NewPrincipal(account AccountSnapshot) *Principal {
	authorities := make(map[string]struct{}, len(account.RoleCodes))
	for _, code := range account.RoleCodes {
		authorities[roleToAuthority(code)] = struct{}{}
	}

	hash := make([]byte, len(account.PasswordHash))
	copy(hash, account.PasswordHash)

	return &Principal{
		ID:                  account.ID,
		TenantID:            account.TenantID,
		Email:               account.Email,
		EmployeeCode:        account.EmployeeCode,
		DisplayName:         account.DisplayName,
		Status:              account.Status,
		MustChangePassword:  account.MustChangePassword,
		PasswordExpiresAt:   account.PasswordExpiresAt,
		FailedLoginAttempts: account.FailedLoginAttempts,
		AccountLockedUntil:  account.AccountLockedUntil,
		LastLoginAt:         account.LastLoginAt,
		passwordHash:        hash,
		authorities:         authorities,
	}
}

// PasswordHash exposes the stored hash for the credential verifier only.
// It must never be logged.
func (p *Principal) PasswordHash() []byte {
	return p.passwordHash
}

func (p *Principal) Enabled() bool {
	return p.Status == StatusActive
}

// AccountNonLocked reports whether the lock expiry is absent or has passed.
// A lock expiring exactly at now no longer counts as locked.
func (p *Principal) AccountNonLocked(now time.Time) bool {
	return p.AccountLockedUntil == nil || !p.AccountLockedUntil.After(now)
}

// CredentialsNonExpired reports whether the password expiry is absent or
// strictly in the future.
func (p *Principal) CredentialsNonExpired(now time.Time) bool {
	return p.PasswordExpiresAt == nil || p.PasswordExpiresAt.After(now)
}

func (p *Principal) PasswordExpired(now time.Time) bool {
	return !p.CredentialsNonExpired(now)
}

func (p *Principal) HasRole(code string) bool {
	_, ok := p.authorities[roleToAuthority(code)]
	return ok
}

func (p *Principal) HasAnyRole(codes ...string) bool {
	for _, code := range codes {
		if p.HasRole(code) {
			return true
		}
	}
	return false
}

// Roles returns the bare role codes, sorted for deterministic output.
func (p *Principal) Roles() []string {
	roles := make([]string, 0, len(p.authorities))
	for authority := range p.authorities {
		roles = append(roles, authorityToRole(authority))
	}
	sort.Strings(roles)
	return roles
}

func roleToAuthority(code string) string {
	return rolePrefix + code
}

func authorityToRole(authority string) string {
	return strings.TrimPrefix(authority, rolePrefix)
}
