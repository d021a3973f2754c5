package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Repository is the Postgres-backed account store, session registry and
// login-attempt log. Lockout updates run under a row lock so concurrent
// attempts against the same account serialize.
type Repository struct {
	db         *sql.DB
	policy     LockoutPolicy
	sessionTTL time.Duration
}

type CleanupResult struct {
	DeletedSessions      int64 `json:"deleted_sessions"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

func NewRepository(db *sql.DB, policy LockoutPolicy, sessionTTL time.Duration) *Repository {
	if sessionTTL <= 0 {
		sessionTTL = 8 * time.Hour
	}
	return &Repository{db: db, policy: policy, sessionTTL: sessionTTL}
}

const accountColumns = `
	a.id, a.tenant_id, a.email, a.employee_code, a.display_name,
	a.password_hash, a.status, a.must_change_password, a.password_expires_at,
	a.failed_login_attempts, a.account_locked_until, a.last_login_at
`

func (r *Repository) FindByEmail(ctx context.Context, email string) (AccountSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM user_accounts a
		WHERE lower(a.email) = lower($1)
	`, email)

	return r.scanAccount(ctx, row)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (AccountSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM user_accounts a
		WHERE a.id = $1
	`, id)

	return r.scanAccount(ctx, row)
}

func (r *Repository) scanAccount(ctx context.Context, row *sql.Row) (AccountSnapshot, error) {
	var account AccountSnapshot
	var employeeCode sql.NullString
	var passwordExpiresAt, lockedUntil, lastLoginAt sql.NullTime

	err := row.Scan(
		&account.ID,
		&account.TenantID,
		&account.Email,
		&employeeCode,
		&account.DisplayName,
		&account.PasswordHash,
		&account.Status,
		&account.MustChangePassword,
		&passwordExpiresAt,
		&account.FailedLoginAttempts,
		&lockedUntil,
		&lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccountSnapshot{}, ErrAccountNotFound
		}
		return AccountSnapshot{}, fmt.Errorf("query account: %w", err)
	}

	account.EmployeeCode = employeeCode.String
	account.PasswordExpiresAt = nullableTime(passwordExpiresAt)
	account.AccountLockedUntil = nullableTime(lockedUntil)
	account.LastLoginAt = nullableTime(lastLoginAt)

	roles, err := r.accountRoles(ctx, account.ID)
	if err != nil {
		return AccountSnapshot{}, err
	}
	account.RoleCodes = roles

	return account, nil
}

func (r *Repository) accountRoles(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.code
		FROM roles r
		JOIN user_account_roles ur ON ur.role_id = r.id
		WHERE ur.account_id = $1
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query account roles: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan role code: %w", err)
		}
		codes = append(codes, code)
	}

	return codes, rows.Err()
}

// RecordFailedAttempt applies the lockout transition under a row lock.
// An already-active lock is returned untouched; the counter only moves
// forward once the lock has elapsed.
func (r *Repository) RecordFailedAttempt(ctx context.Context, accountID int64, now time.Time) (LockoutState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LockoutState{}, fmt.Errorf("begin lockout tx: %w", err)
	}
	defer tx.Rollback()

	var state LockoutState
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, account_locked_until
		FROM user_accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LockoutState{}, ErrAccountNotFound
		}
		return LockoutState{}, fmt.Errorf("lock account row: %w", err)
	}
	state.LockedUntil = nullableTime(lockedUntil)

	if r.policy.IsLocked(state, now) {
		if err := tx.Commit(); err != nil {
			return LockoutState{}, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return state, nil
	}

	next := r.policy.OnFailedAttempt(state, now)

	_, err = tx.ExecContext(ctx, `
		UPDATE user_accounts
		SET failed_login_attempts = $2, account_locked_until = $3, updated_at = $4
		WHERE id = $1
	`, accountID, next.FailedAttempts, next.LockedUntil, now.UTC())
	if err != nil {
		return LockoutState{}, fmt.Errorf("update lockout state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LockoutState{}, fmt.Errorf("commit lockout tx: %w", err)
	}

	return next, nil
}

func (r *Repository) RecordSuccessfulAttempt(ctx context.Context, accountID int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_accounts
		SET failed_login_attempts = 0, account_locked_until = NULL,
		    last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, accountID, now.UTC())
	if err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}

	return nil
}

func (r *Repository) UnlockAccount(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_accounts
		SET failed_login_attempts = 0, account_locked_until = NULL, updated_at = NOW()
		WHERE lower(email) = lower($1)
	`, email)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock account rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *Repository) CreateSession(ctx context.Context, accountID, tenantID int64, meta RequestMeta) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now().UTC()
	session := Session{
		ID:        id.String(),
		AccountID: accountID,
		TenantID:  tenantID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(r.sessionTTL),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, account_id, tenant_id, ip_address, user_agent, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`, session.ID, accountID, tenantID, meta.IPAddress, meta.UserAgent, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	return session, nil
}

func (r *Repository) InvalidateSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE
		WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}

	return nil
}

func (r *Repository) ActiveSessions(ctx context.Context, accountID int64) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, tenant_id, ip_address, user_agent, created_at, last_accessed_at, expires_at
		FROM user_sessions
		WHERE account_id = $1 AND is_active AND expires_at > NOW()
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		var lastAccessed sql.NullTime
		err := rows.Scan(
			&session.ID,
			&session.AccountID,
			&session.TenantID,
			&session.IPAddress,
			&session.UserAgent,
			&session.CreatedAt,
			&lastAccessed,
			&session.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.LastAccessedAt = nullableTime(lastAccessed)
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

func (r *Repository) TerminateAccountSessions(ctx context.Context, accountID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET is_active = FALSE
		WHERE account_id = $1 AND is_active
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("terminate sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("terminate sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) RecordAttempt(ctx context.Context, email string, meta RequestMeta, success bool, failureReason string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate attempt id: %w", err)
	}

	var reason any
	if failureReason != "" {
		reason = failureReason
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (id, email, ip_address, user_agent, success, failure_reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.String(), email, meta.IPAddress, meta.UserAgent, success, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}

	return nil
}

// BootstrapAdmin ensures the default tenant and an ADMIN account exist,
// for first-run provisioning from env. Idempotent.
func (r *Repository) BootstrapAdmin(ctx context.Context, email, plainPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap tx: %w", err)
	}
	defer tx.Rollback()

	var tenantID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (name, created_at)
		VALUES ('default', $1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, now).Scan(&tenantID)
	if err != nil {
		return fmt.Errorf("ensure default tenant: %w", err)
	}

	var accountID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_accounts (tenant_id, email, display_name, password_hash, status, created_at, updated_at)
		VALUES ($1, lower($2), 'Administrator', $3, 'ACTIVE', $4, $4)
		ON CONFLICT (tenant_id, email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			status = 'ACTIVE',
			failed_login_attempts = 0,
			account_locked_until = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, tenantID, email, string(hash), now).Scan(&accountID)
	if err != nil {
		return fmt.Errorf("upsert admin account: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_account_roles (account_id, role_id)
		SELECT $1, id FROM roles WHERE code = 'ADMIN'
		ON CONFLICT DO NOTHING
	`, accountID)
	if err != nil {
		return fmt.Errorf("grant admin role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap tx: %w", err)
	}

	return nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, sessionRetention, attemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if sessionRetention <= 0 {
		sessionRetention = 14 * 24 * time.Hour
	}
	if attemptRetention <= 0 {
		attemptRetention = 30 * 24 * time.Hour
	}

	sessionCutoff := time.Now().UTC().Add(-sessionRetention)
	attemptCutoff := time.Now().UTC().Add(-attemptRetention)

	deletedSessions, err := r.deleteStaleSessions(ctx, sessionCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedAttempts, err := r.deleteStaleLoginAttempts(ctx, attemptCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedSessions:      deletedSessions,
		DeletedLoginAttempts: deletedAttempts,
	}, nil
}

func (r *Repository) deleteStaleSessions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM user_sessions
			WHERE expires_at < $1 OR (NOT is_active AND created_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM user_sessions s
		USING stale
		WHERE s.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_login_attempts
			WHERE attempted_at < $1
			ORDER BY attempted_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}

func nullableTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	utc := value.Time.UTC()
	return &utc
}
