package auth

import "time"

type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusInactive  AccountStatus = "INACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
)

// AccountSnapshot is the stored account record as read from the account
// store, roles included. Principals are built from it and never refresh
// lazily: if roles change, a new snapshot must be loaded.
type AccountSnapshot struct {
	ID                  int64
	TenantID            int64
	Email               string
	EmployeeCode        string
	DisplayName         string
	PasswordHash        []byte
	Status              AccountStatus
	MustChangePassword  bool
	PasswordExpiresAt   *time.Time
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	LastLoginAt         *time.Time
	RoleCodes           []string
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type UserInfo struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	Email        string     `json:"email"`
	EmployeeCode string     `json:"employee_code,omitempty"`
	DisplayName  string     `json:"display_name"`
	Roles        []string   `json:"roles"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

type LoginResult struct {
	TokenPair
	SessionID          string     `json:"session_id,omitempty"`
	User               UserInfo   `json:"user"`
	MustChangePassword bool       `json:"must_change_password"`
	PasswordExpiresAt  *time.Time `json:"password_expires_at,omitempty"`
}

type Session struct {
	ID             string     `json:"id"`
	AccountID      int64      `json:"-"`
	TenantID       int64      `json:"-"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
}

// RequestMeta carries caller metadata recorded with every login attempt.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
