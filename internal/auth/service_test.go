package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"inventory-auth/internal/observability"
)

type fakeStore struct {
	account      AccountSnapshot
	policy       LockoutPolicy
	failPersist  bool
	failedCalls  int
	successCalls int
	unlocked     []string
}

func (f *fakeStore) FindByEmail(_ context.Context, email string) (AccountSnapshot, error) {
	if email != f.account.Email {
		return AccountSnapshot{}, ErrAccountNotFound
	}
	return f.account, nil
}

func (f *fakeStore) FindByID(_ context.Context, id int64) (AccountSnapshot, error) {
	if id != f.account.ID {
		return AccountSnapshot{}, ErrAccountNotFound
	}
	return f.account, nil
}

func (f *fakeStore) RecordFailedAttempt(_ context.Context, accountID int64, now time.Time) (LockoutState, error) {
	f.failedCalls++
	if f.failPersist {
		return LockoutState{}, fmt.Errorf("store unavailable")
	}
	if accountID != f.account.ID {
		return LockoutState{}, ErrAccountNotFound
	}
	next := f.policy.OnFailedAttempt(LockoutState{
		FailedAttempts: f.account.FailedLoginAttempts,
		LockedUntil:    f.account.AccountLockedUntil,
	}, now)
	f.account.FailedLoginAttempts = next.FailedAttempts
	f.account.AccountLockedUntil = next.LockedUntil
	return next, nil
}

func (f *fakeStore) RecordSuccessfulAttempt(_ context.Context, accountID int64, now time.Time) error {
	f.successCalls++
	if accountID != f.account.ID {
		return ErrAccountNotFound
	}
	f.account.FailedLoginAttempts = 0
	f.account.AccountLockedUntil = nil
	f.account.LastLoginAt = &now
	return nil
}

func (f *fakeStore) UnlockAccount(_ context.Context, email string) error {
	if email != f.account.Email {
		return ErrAccountNotFound
	}
	f.unlocked = append(f.unlocked, email)
	f.account.FailedLoginAttempts = 0
	f.account.AccountLockedUntil = nil
	return nil
}

type fakeSessions struct {
	nextID      int
	active      []Session
	invalidated []string
	terminated  int64
}

func (f *fakeSessions) CreateSession(_ context.Context, accountID, tenantID int64, meta RequestMeta) (Session, error) {
	f.nextID++
	session := Session{
		ID:        fmt.Sprintf("sess-%d", f.nextID),
		AccountID: accountID,
		TenantID:  tenantID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(8 * time.Hour),
	}
	f.active = append(f.active, session)
	return session, nil
}

func (f *fakeSessions) InvalidateSession(_ context.Context, sessionID string) error {
	f.invalidated = append(f.invalidated, sessionID)
	return nil
}

func (f *fakeSessions) ActiveSessions(_ context.Context, accountID int64) ([]Session, error) {
	var owned []Session
	for _, session := range f.active {
		if session.AccountID == accountID {
			owned = append(owned, session)
		}
	}
	return owned, nil
}

func (f *fakeSessions) TerminateAccountSessions(_ context.Context, accountID int64) (int64, error) {
	var count int64
	for _, session := range f.active {
		if session.AccountID == accountID {
			count++
		}
	}
	f.terminated += count
	return count, nil
}

type fakeVerifier struct {
	ok    bool
	calls int
}

func (f *fakeVerifier) Verify(_ []byte, _ string) bool {
	f.calls++
	return f.ok
}

type attemptRecord struct {
	email   string
	success bool
	reason  string
}

type fakeAttempts struct {
	entries []attemptRecord
	fail    bool
}

func (f *fakeAttempts) RecordAttempt(_ context.Context, email string, _ RequestMeta, success bool, failureReason string) error {
	if f.fail {
		return fmt.Errorf("audit log unavailable")
	}
	f.entries = append(f.entries, attemptRecord{email: email, success: success, reason: failureReason})
	return nil
}

type serviceFixture struct {
	service  *Service
	store    *fakeStore
	sessions *fakeSessions
	verifier *fakeVerifier
	attempts *fakeAttempts
	codec    *TokenCodec
}

func newServiceFixture(t *testing.T, account AccountSnapshot, passwordOK bool) *serviceFixture {
	t.Helper()

	policy := LockoutPolicy{MaxAttempts: 5, LockDuration: 900 * time.Second}
	codec, err := NewTokenCodec(testSecret, 15*time.Minute, 168*time.Hour, observability.NewLogger())
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	store := &fakeStore{account: account, policy: policy}
	sessions := &fakeSessions{}
	verifier := &fakeVerifier{ok: passwordOK}
	attempts := &fakeAttempts{}

	return &serviceFixture{
		service:  NewService(store, sessions, attempts, verifier, codec, policy, observability.NewLogger()),
		store:    store,
		sessions: sessions,
		verifier: verifier,
		attempts: attempts,
		codec:    codec,
	}
}

var testMeta = RequestMeta{IPAddress: "198.51.100.7", UserAgent: "go-test"}

func TestLogin_Success(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)

	result, err := fx.service.Login(context.Background(), "OPS@example.com", "correct horse", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if result.SessionID != "sess-1" {
		t.Fatalf("expected session sess-1, got %q", result.SessionID)
	}
	if result.TokenType != "Bearer" || result.ExpiresIn != int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected token envelope: %+v", result.TokenPair)
	}
	if !reflect.DeepEqual(result.User.Roles, []string{"ADMIN"}) {
		t.Fatalf("expected user roles {ADMIN}, got %v", result.User.Roles)
	}

	claims, err := fx.codec.Verify(result.AccessToken)
	if err != nil {
		t.Fatalf("issued access token failed verification: %v", err)
	}
	if claims.AccountID != 7 || claims.IsRefresh() {
		t.Fatalf("unexpected access claims: %+v", claims)
	}
	if !fx.codec.IsRefreshToken(result.RefreshToken) {
		t.Fatal("issued refresh token misclassified")
	}

	if fx.store.successCalls != 1 || fx.store.account.FailedLoginAttempts != 0 {
		t.Fatalf("expected lockout reset, got %d calls attempts=%d", fx.store.successCalls, fx.store.account.FailedLoginAttempts)
	}
	if len(fx.attempts.entries) != 1 || !fx.attempts.entries[0].success {
		t.Fatalf("expected one successful audit entry, got %+v", fx.attempts.entries)
	}
}

func TestLogin_UnknownAccount(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)

	_, err := fx.service.Login(context.Background(), "ghost@example.com", "whatever", testMeta)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(fx.attempts.entries) != 1 || fx.attempts.entries[0].reason != "account not found" {
		t.Fatalf("expected audited unknown-account attempt, got %+v", fx.attempts.entries)
	}
	if fx.verifier.calls != 0 {
		t.Fatal("verifier must not run for unknown accounts")
	}
}

func TestLogin_LockedAccountSkipsVerifier(t *testing.T) {
	account := activeAccount("ADMIN")
	lockedUntil := time.Now().UTC().Add(10 * time.Minute)
	account.FailedLoginAttempts = 5
	account.AccountLockedUntil = &lockedUntil

	fx := newServiceFixture(t, account, true)

	_, err := fx.service.Login(context.Background(), account.Email, "correct horse", testMeta)
	var locked ErrAccountLocked
	if !errors.As(err, &locked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if !locked.Until.Equal(lockedUntil) {
		t.Fatalf("expected lock until %v, got %v", lockedUntil, locked.Until)
	}
	if fx.verifier.calls != 0 {
		t.Fatal("verifier must not run while the account is locked")
	}
	if len(fx.attempts.entries) != 1 || fx.attempts.entries[0].reason != "account locked" {
		t.Fatalf("expected audited locked attempt, got %+v", fx.attempts.entries)
	}
}

func TestLogin_FifthFailureLocks(t *testing.T) {
	account := activeAccount("ADMIN")
	account.FailedLoginAttempts = 4

	fx := newServiceFixture(t, account, false)

	_, err := fx.service.Login(context.Background(), account.Email, "wrong", testMeta)
	var locked ErrAccountLocked
	if !errors.As(err, &locked) {
		t.Fatalf("expected ErrAccountLocked on fifth failure, got %v", err)
	}
	if fx.store.account.FailedLoginAttempts != 5 {
		t.Fatalf("expected counter 5, got %d", fx.store.account.FailedLoginAttempts)
	}
	if fx.store.account.AccountLockedUntil == nil {
		t.Fatal("expected persisted lock timestamp")
	}

	// Sixth attempt is rejected before the verifier runs.
	_, err = fx.service.Login(context.Background(), account.Email, "wrong", testMeta)
	if !errors.As(err, &locked) {
		t.Fatalf("expected ErrAccountLocked on sixth attempt, got %v", err)
	}
	if fx.verifier.calls != 1 {
		t.Fatalf("expected exactly one verifier call, got %d", fx.verifier.calls)
	}
}

func TestLogin_EarlyFailuresReturnInvalidCredentials(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), false)

	for i := 1; i <= 4; i++ {
		_, err := fx.service.Login(context.Background(), "ops@example.com", "wrong", testMeta)
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		if fx.store.account.FailedLoginAttempts != i {
			t.Fatalf("attempt %d: expected counter %d, got %d", i, i, fx.store.account.FailedLoginAttempts)
		}
	}
}

func TestLogin_PersistFailureFailsClosed(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), false)
	fx.store.failPersist = true

	_, err := fx.service.Login(context.Background(), "ops@example.com", "wrong", testMeta)
	if err == nil {
		t.Fatal("expected error when lockout state cannot be persisted")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("persistence failure must not degrade to invalid credentials: %v", err)
	}
}

func TestLogin_AuditFailureFailsClosed(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)
	fx.attempts.fail = true

	_, err := fx.service.Login(context.Background(), "ops@example.com", "correct horse", testMeta)
	if err == nil || !strings.Contains(err.Error(), "record login attempt") {
		t.Fatalf("expected audit failure to surface, got %v", err)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	account := activeAccount("ADMIN")
	account.Status = StatusSuspended

	fx := newServiceFixture(t, account, true)

	_, err := fx.service.Login(context.Background(), account.Email, "correct horse", testMeta)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if fx.verifier.calls != 0 {
		t.Fatal("verifier must not run for disabled accounts")
	}
}

func TestLogin_PasswordExpiryForcesChange(t *testing.T) {
	account := activeAccount("ADMIN")
	expired := time.Now().UTC().Add(-time.Hour)
	account.PasswordExpiresAt = &expired

	fx := newServiceFixture(t, account, true)

	result, err := fx.service.Login(context.Background(), account.Email, "correct horse", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.MustChangePassword {
		t.Fatal("expired password must force a change")
	}
}

func TestRefresh_RebuildsPrincipal(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)

	login, err := fx.service.Login(context.Background(), "ops@example.com", "correct horse", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Role change after login must show up in the refreshed access token.
	fx.store.account.RoleCodes = []string{"VIEWER"}

	refreshed, err := fx.service.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken != login.RefreshToken {
		t.Fatal("refresh must return the original refresh token")
	}

	claims, err := fx.codec.Verify(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("refreshed access token failed verification: %v", err)
	}
	if !reflect.DeepEqual(claims.Roles, []string{"VIEWER"}) {
		t.Fatalf("expected rebuilt roles {VIEWER}, got %v", claims.Roles)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)

	login, err := fx.service.Login(context.Background(), "ops@example.com", "correct horse", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := fx.service.Refresh(context.Background(), login.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for access token, got %v", err)
	}
	if _, err := fx.service.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for garbage, got %v", err)
	}
}

func TestTerminateSession_OwnershipCheck(t *testing.T) {
	fx := newServiceFixture(t, activeAccount("ADMIN"), true)

	login, err := fx.service.Login(context.Background(), "ops@example.com", "correct horse", testMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := fx.service.TerminateSession(context.Background(), 999, login.SessionID); err == nil {
		t.Fatal("terminating another account's session must fail")
	}
	if err := fx.service.TerminateSession(context.Background(), 7, login.SessionID); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if len(fx.sessions.invalidated) != 1 || fx.sessions.invalidated[0] != login.SessionID {
		t.Fatalf("expected session %s invalidated, got %v", login.SessionID, fx.sessions.invalidated)
	}
}

func TestUnlockAccount(t *testing.T) {
	account := activeAccount("ADMIN")
	lockedUntil := time.Now().UTC().Add(10 * time.Minute)
	account.FailedLoginAttempts = 5
	account.AccountLockedUntil = &lockedUntil

	fx := newServiceFixture(t, account, true)

	if err := fx.service.UnlockAccount(context.Background(), "OPS@example.com "); err != nil {
		t.Fatalf("UnlockAccount: %v", err)
	}
	if fx.store.account.FailedLoginAttempts != 0 || fx.store.account.AccountLockedUntil != nil {
		t.Fatalf("expected cleared lockout state, got %+v", fx.store.account)
	}

	if err := fx.service.UnlockAccount(context.Background(), "ghost@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
