package account

import (
	"net/http"
	"strings"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/shopspring/decimal"
)

// ============================================================================
// Account Entity
// ============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Account is a client or back office administrator.
type Account struct {
	ID               kernel.AccountID `db:"id" json:"id"`
	Email            string           `db:"email" json:"email"`
	Name             string           `db:"name" json:"name"`
	Phone            string           `db:"phone" json:"phone,omitempty"`
	PasswordHash     string           `db:"password_hash" json:"-"`
	Role             kernel.Role      `db:"role" json:"role"`
	Status           Status           `db:"status" json:"status"`
	EmailVerified    bool             `db:"email_verified" json:"email_verified"`
	TwoFactorEnabled bool             `db:"two_factor_enabled" json:"two_factor_enabled"`
	Balance          decimal.Decimal  `db:"balance" json:"balance"`
	LastLoginAt      *time.Time       `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// NormalizeEmail is the canonical form used for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

func (a *Account) IsAdmin() bool {
	return a.Role == kernel.RoleAdmin
}

// CanLogin reports whether password login may proceed for this account.
func (a *Account) CanLogin() error {
	if !a.IsActive() {
		return ErrSuspended()
	}
	if !a.EmailVerified {
		return ErrEmailNotVerified().WithDetail("remedy", "verify_email")
	}
	return nil
}

func (a *Account) MarkEmailVerified() {
	a.EmailVerified = true
	a.UpdatedAt = time.Now()
}

func (a *Account) SetTwoFactor(enabled bool) {
	a.TwoFactorEnabled = enabled
	a.UpdatedAt = time.Now()
}

func (a *Account) UpdateLastLogin() {
	now := time.Now()
	a.LastLoginAt = &now
	a.UpdatedAt = now
}

// UpdateProfile applies the non-empty fields.
func (a *Account) UpdateProfile(name, phone *string) {
	if name != nil && strings.TrimSpace(*name) != "" {
		a.Name = strings.TrimSpace(*name)
	}
	if phone != nil {
		a.Phone = strings.TrimSpace(*phone)
	}
	a.UpdatedAt = time.Now()
}

func (a *Account) SetPasswordHash(hash string) {
	a.PasswordHash = hash
	a.UpdatedAt = time.Now()
}

func (a *Account) Suspend() error {
	if !a.IsActive() {
		return ErrInvalidStatus().WithDetail("current_status", a.Status)
	}
	a.Status = StatusSuspended
	a.UpdatedAt = time.Now()
	return nil
}

func (a *Account) Activate() error {
	if a.IsActive() {
		return ErrInvalidStatus().WithDetail("current_status", a.Status)
	}
	a.Status = StatusActive
	a.UpdatedAt = time.Now()
	return nil
}

// AuthContext builds the caller description carried in tokens.
func (a *Account) AuthContext() *kernel.AuthContext {
	return &kernel.AuthContext{AccountID: a.ID, Email: a.Email, Role: a.Role}
}

// ============================================================================
// DTOs
// ============================================================================

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type UpdateProfileRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type ListOptions struct {
	Status Status
	Role   kernel.Role
	Limit  int
	Offset int
}

type ListResult struct {
	Accounts []*Account `json:"accounts"`
	Total    int        `json:"total"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("ACCOUNT")

var (
	CodeNotFound           = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Account not found")
	CodeAlreadyExists      = ErrRegistry.Register("ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "An account with this email already exists")
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid email or password")
	CodeEmailNotVerified   = ErrRegistry.Register("EMAIL_NOT_VERIFIED", errx.TypeBusiness, http.StatusForbidden, "Email address has not been verified")
	CodeSuspended          = ErrRegistry.Register("SUSPENDED", errx.TypeBusiness, http.StatusForbidden, "Account is suspended")
	CodeInvalidStatus      = ErrRegistry.Register("INVALID_STATUS", errx.TypeBusiness, http.StatusBadRequest, "Invalid account status for this operation")
	CodeWeakPassword       = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Password does not meet the requirements")
	CodeInvalidInput       = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid account data")
	CodeInsufficientFunds  = ErrRegistry.Register("INSUFFICIENT_FUNDS", errx.TypeBusiness, http.StatusBadRequest, "Insufficient balance")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeAlreadyExists)
}

func ErrInvalidCredentials() *errx.Error {
	return ErrRegistry.New(CodeInvalidCredentials)
}

func ErrEmailNotVerified() *errx.Error {
	return ErrRegistry.New(CodeEmailNotVerified)
}

func ErrSuspended() *errx.Error {
	return ErrRegistry.New(CodeSuspended)
}

func ErrInvalidStatus() *errx.Error {
	return ErrRegistry.New(CodeInvalidStatus)
}

func ErrWeakPassword() *errx.Error {
	return ErrRegistry.New(CodeWeakPassword)
}

func ErrInvalidInput() *errx.Error {
	return ErrRegistry.New(CodeInvalidInput)
}

func ErrInsufficientFunds() *errx.Error {
	return ErrRegistry.New(CodeInsufficientFunds)
}
