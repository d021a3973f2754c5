package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-auth/internal/observability"
)

// AccountStore is the external account persistence boundary. Lockout
// updates must be serializable per account: two concurrent failed attempts
// must never both observe attempt N and both write N+1.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (AccountSnapshot, error)
	FindByID(ctx context.Context, id int64) (AccountSnapshot, error)
	RecordFailedAttempt(ctx context.Context, accountID int64, now time.Time) (LockoutState, error)
	RecordSuccessfulAttempt(ctx context.Context, accountID int64, now time.Time) error
	UnlockAccount(ctx context.Context, email string) error
}

type SessionRegistry interface {
	CreateSession(ctx context.Context, accountID, tenantID int64, meta RequestMeta) (Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
	ActiveSessions(ctx context.Context, accountID int64) ([]Session, error)
	TerminateAccountSessions(ctx context.Context, accountID int64) (int64, error)
}

type CredentialVerifier interface {
	Verify(hash []byte, password string) bool
}

type AttemptLog interface {
	RecordAttempt(ctx context.Context, email string, meta RequestMeta, success bool, failureReason string) error
}

// Service sequences a login attempt: lockout check, credential
// verification, lockout persistence, principal build, token issuance,
// session creation, attempt recording. It holds no mutable state; every
// transition is computed by LockoutPolicy and persisted by the store.
type Service struct {
	store    AccountStore
	sessions SessionRegistry
	attempts AttemptLog
	verifier CredentialVerifier
	codec    *TokenCodec
	policy   LockoutPolicy
	logger   *observability.Logger
}

func NewService(
	store AccountStore,
	sessions SessionRegistry,
	attempts AttemptLog,
	verifier CredentialVerifier,
	codec *TokenCodec,
	policy LockoutPolicy,
	logger *observability.Logger,
) *Service {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 5
	}
	if policy.LockDuration < time.Second {
		policy.LockDuration = 15 * time.Minute
	}

	return &Service{
		store:    store,
		sessions: sessions,
		attempts: attempts,
		verifier: verifier,
		codec:    codec,
		policy:   policy,
		logger:   logger,
	}
}

func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Unknown accounts are indistinguishable from bad passwords.
			if logErr := s.attempts.RecordAttempt(ctx, email, meta, false, "account not found"); logErr != nil {
				return LoginResult{}, fmt.Errorf("record login attempt: %w", logErr)
			}
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	state := LockoutState{
		FailedAttempts: account.FailedLoginAttempts,
		LockedUntil:    account.AccountLockedUntil,
	}
	if s.policy.IsLocked(state, now) {
		if logErr := s.attempts.RecordAttempt(ctx, email, meta, false, "account locked"); logErr != nil {
			return LoginResult{}, fmt.Errorf("record login attempt: %w", logErr)
		}
		return LoginResult{}, ErrAccountLocked{Until: *account.AccountLockedUntil}
	}

	if account.Status != StatusActive {
		if logErr := s.attempts.RecordAttempt(ctx, email, meta, false, "account disabled"); logErr != nil {
			return LoginResult{}, fmt.Errorf("record login attempt: %w", logErr)
		}
		return LoginResult{}, ErrAccountDisabled
	}

	if !s.verifier.Verify(account.PasswordHash, password) {
		// Fail closed: if the lockout update cannot be persisted, the
		// attempt is reported as failed, never swallowed.
		next, regErr := s.store.RecordFailedAttempt(ctx, account.ID, now)
		if regErr != nil {
			return LoginResult{}, fmt.Errorf("record failed attempt: %w", regErr)
		}
		if logErr := s.attempts.RecordAttempt(ctx, email, meta, false, "invalid credentials"); logErr != nil {
			return LoginResult{}, fmt.Errorf("record login attempt: %w", logErr)
		}
		if s.policy.IsLocked(next, now) {
			s.logger.Warn("account_locked", map[string]any{
				"email":        email,
				"attempts":     next.FailedAttempts,
				"locked_until": next.LockedUntil.UTC().Format(time.RFC3339),
			})
			return LoginResult{}, ErrAccountLocked{Until: *next.LockedUntil}
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.RecordSuccessfulAttempt(ctx, account.ID, now); err != nil {
		return LoginResult{}, fmt.Errorf("reset lockout state: %w", err)
	}

	principal := NewPrincipal(account)

	access, err := s.codec.IssueAccessToken(principal, now)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.codec.IssueRefreshToken(principal, now)
	if err != nil {
		return LoginResult{}, err
	}

	session, err := s.sessions.CreateSession(ctx, account.ID, account.TenantID, meta)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	if logErr := s.attempts.RecordAttempt(ctx, email, meta, true, ""); logErr != nil {
		return LoginResult{}, fmt.Errorf("record login attempt: %w", logErr)
	}

	s.logger.Info("login_succeeded", map[string]any{"email": email, "ip": meta.IPAddress})

	return LoginResult{
		TokenPair: TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		},
		SessionID:          session.ID,
		User:               principalInfo(principal),
		MustChangePassword: principal.MustChangePassword || principal.PasswordExpired(now),
		PasswordExpiresAt:  principal.PasswordExpiresAt,
	}, nil
}

// Refresh mints a new access token from a verified refresh token. The
// account is re-read and the principal rebuilt, so a role change since
// login is reflected; the refresh token itself is returned unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (LoginResult, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(refreshToken))
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	if !claims.IsRefresh() {
		return LoginResult{}, ErrInvalidRefreshToken
	}

	account, err := s.store.FindByID(ctx, claims.AccountID)
	if err != nil {
		return LoginResult{}, err
	}

	now := time.Now().UTC()
	principal := NewPrincipal(account)

	access, err := s.codec.IssueAccessToken(principal, now)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		TokenPair: TokenPair{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		},
		User:               principalInfo(principal),
		MustChangePassword: principal.MustChangePassword || principal.PasswordExpired(now),
		PasswordExpiresAt:  principal.PasswordExpiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.InvalidateSession(ctx, sessionID)
}

func (s *Service) Sessions(ctx context.Context, accountID int64) ([]Session, error) {
	return s.sessions.ActiveSessions(ctx, accountID)
}

// TerminateSession invalidates one of the caller's own sessions.
func (s *Service) TerminateSession(ctx context.Context, accountID int64, sessionID string) error {
	active, err := s.sessions.ActiveSessions(ctx, accountID)
	if err != nil {
		return err
	}
	for _, session := range active {
		if session.ID == sessionID {
			return s.sessions.InvalidateSession(ctx, sessionID)
		}
	}
	return fmt.Errorf("session %s not found for account %d", sessionID, accountID)
}

func (s *Service) TerminateAllSessions(ctx context.Context, accountID int64) (int64, error) {
	return s.sessions.TerminateAccountSessions(ctx, accountID)
}

func (s *Service) UnlockAccount(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return ErrAccountNotFound
	}
	if err := s.store.UnlockAccount(ctx, email); err != nil {
		return err
	}
	s.logger.Info("account_unlocked", map[string]any{"email": email})
	return nil
}

func principalInfo(p *Principal) UserInfo {
	return UserInfo{
		ID:           p.ID,
		TenantID:     p.TenantID,
		Email:        p.Email,
		EmployeeCode: p.EmployeeCode,
		DisplayName:  p.DisplayName,
		Roles:        p.Roles(),
		LastLoginAt:  p.LastLoginAt,
	}
}
