package accountsrv

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/auth"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
	"github.com/shopspring/decimal"
)

// RegisterResult is returned after sign up. VerificationSent is false when the
// email_verification code could not be delivered; the client can use /otp/resend.
type RegisterResult struct {
	Account          *account.Account `json:"account"`
	VerificationSent bool             `json:"verification_sent"`
}

// LoginResult carries either a session or the notice that a login code was emailed.
type LoginResult struct {
	TwoFactorRequired bool             `json:"two_factor_required"`
	Email             string           `json:"email,omitempty"`
	CodeExpiresAt     *time.Time       `json:"code_expires_at,omitempty"`
	Tokens            *auth.TokenPair  `json:"tokens,omitempty"`
	Account           *account.Account `json:"account,omitempty"`
}

// AccountService runs the account flows that consume one-time codes: sign up with
// email verification, password login with optional 2FA, password reset and the
// gated profile changes.
type AccountService struct {
	repo      account.Repository
	passwords account.PasswordService
	otps      *otpsrv.OTPService
	tokens    *auth.JWTService
	config    config.PasswordConfig
}

func NewAccountService(
	repo account.Repository,
	passwords account.PasswordService,
	otps *otpsrv.OTPService,
	tokens *auth.JWTService,
	cfg config.PasswordConfig,
) *AccountService {
	return &AccountService{
		repo:      repo,
		passwords: passwords,
		otps:      otps,
		tokens:    tokens,
		config:    cfg,
	}
}

// Register creates an unverified client account and emails an email_verification code.
func (s *AccountService) Register(ctx context.Context, req account.RegisterRequest) (*RegisterResult, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, account.ErrInvalidInput().WithDetail("field", "name")
	}
	if err := s.checkPassword(req.Password); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, errx.Wrap(err, "failed to check email existence", errx.TypeInternal)
	}
	if exists {
		return nil, account.ErrAlreadyExists().WithDetail("email", email)
	}

	hash, err := s.passwords.HashPassword(req.Password)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}

	now := time.Now()
	a := account.Account{
		ID:           kernel.NewAccountID(),
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Role:         kernel.RoleClient,
		Status:       account.StatusActive,
		Balance:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}

	sent := true
	if _, err := s.otps.Issue(ctx, a.ID.String(), otp.PurposeEmailVerification); err != nil {
		logx.WithField("account_id", a.ID).Warnf("Email verification code not sent: %v", err)
		sent = false
	}

	return &RegisterResult{Account: &a, VerificationSent: sent}, nil
}

// EnsureAdmin creates a verified admin account for email unless one exists.
// An existing account with that email is left untouched.
func (s *AccountService) EnsureAdmin(ctx context.Context, email, password string) (*account.Account, error) {
	addr, err := parseEmail(email)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByEmail(ctx, addr)
	if err == nil {
		if !existing.IsAdmin() {
			logx.WithField("email", addr).Warn("Bootstrap admin email belongs to a client account")
		}
		return existing, nil
	}
	if !errx.IsCode(err, account.CodeNotFound) {
		return nil, err
	}
	if err := s.checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return nil, errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	now := time.Now()
	a := account.Account{
		ID:            kernel.NewAccountID(),
		Email:         addr,
		Name:          "Administrator",
		PasswordHash:  hash,
		Role:          kernel.RoleAdmin,
		Status:        account.StatusActive,
		EmailVerified: true,
		Balance:       decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}
	logx.WithField("account_id", a.ID).Info("Bootstrap admin created")
	return &a, nil
}

// Login checks credentials. With two-factor enabled it emails a login code
// instead of returning tokens.
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errx.IsCode(err, account.CodeNotFound) {
			return nil, account.ErrInvalidCredentials()
		}
		return nil, err
	}
	if !s.passwords.VerifyPassword(a.PasswordHash, password) {
		return nil, account.ErrInvalidCredentials()
	}
	if err := a.CanLogin(); err != nil {
		return nil, err
	}

	if a.TwoFactorEnabled {
		issued, err := s.otps.Issue(ctx, a.ID.String(), otp.PurposeLogin)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			TwoFactorRequired: true,
			Email:             a.Email,
			CodeExpiresAt:     &issued.ExpiresAt,
		}, nil
	}

	return s.startSession(ctx, a)
}

// CompleteLogin verifies the login code emailed by Login and opens a session.
func (s *AccountService) CompleteLogin(ctx context.Context, email, code string) (*LoginResult, error) {
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if _, err := s.otps.Verify(ctx, a.ID.String(), otp.PurposeLogin, code); err != nil {
		return nil, err
	}
	return s.LoginVerified(ctx, a.ID)
}

// LoginVerified opens a session for an account holding a fresh login verification.
func (s *AccountService) LoginVerified(ctx context.Context, id kernel.AccountID) (*LoginResult, error) {
	if err := s.otps.RequireVerified(ctx, id.String(), otp.PurposeLogin); err != nil {
		return nil, err
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.CanLogin(); err != nil {
		return nil, err
	}
	return s.startSession(ctx, a)
}

func (s *AccountService) startSession(ctx context.Context, a *account.Account) (*LoginResult, error) {
	tokens, err := s.tokens.IssueTokens(a.ID, a.Email, a.Role)
	if err != nil {
		return nil, err
	}

	a.UpdateLastLogin()
	if err := s.repo.Save(ctx, *a); err != nil {
		logx.WithField("account_id", a.ID).Warnf("Failed to record last login: %v", err)
	}

	return &LoginResult{Tokens: tokens, Account: a}, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	id, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, auth.ErrUnauthorized()
	}
	if !a.IsActive() {
		return nil, account.ErrSuspended()
	}
	return s.tokens.IssueTokens(a.ID, a.Email, a.Role)
}

// ConfirmEmail verifies an email_verification code and marks the address verified.
func (s *AccountService) ConfirmEmail(ctx context.Context, email, code string) (*account.Account, error) {
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if _, err := s.otps.Verify(ctx, a.ID.String(), otp.PurposeEmailVerification, code); err != nil {
		return nil, err
	}
	return s.MarkEmailVerified(ctx, a.ID)
}

// MarkEmailVerified runs after a successful email_verification. Repeated calls are no-ops.
func (s *AccountService) MarkEmailVerified(ctx context.Context, id kernel.AccountID) (*account.Account, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.EmailVerified {
		return a, nil
	}
	a.MarkEmailVerified()
	if err := s.repo.Save(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateProfile requires a fresh profile_update verification.
func (s *AccountService) UpdateProfile(ctx context.Context, id kernel.AccountID, req account.UpdateProfileRequest) (*account.Account, error) {
	if err := s.otps.RequireVerified(ctx, id.String(), otp.PurposeProfileUpdate); err != nil {
		return nil, err
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.UpdateProfile(req.Name, req.Phone)
	if err := s.repo.Save(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetTwoFactor toggles email 2FA. Requires a fresh profile_update verification.
func (s *AccountService) SetTwoFactor(ctx context.Context, id kernel.AccountID, enabled bool) (*account.Account, error) {
	if err := s.otps.RequireVerified(ctx, id.String(), otp.PurposeProfileUpdate); err != nil {
		return nil, err
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.SetTwoFactor(enabled)
	if err := s.repo.Save(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// RequestPasswordReset emails a reset code. It reports success for unknown
// addresses and while a previous code is still throttled.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errx.IsCode(err, account.CodeNotFound) {
			logx.Debug("Password reset requested for unknown email")
			return nil
		}
		return err
	}

	_, err = s.otps.Resend(ctx, a.ID.String(), otp.PurposeOther)
	if errx.IsCode(err, otp.CodeThrottled) {
		return nil
	}
	return err
}

// ResetPassword verifies the reset code and replaces the password.
func (s *AccountService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.checkPassword(newPassword); err != nil {
		return err
	}
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errx.IsCode(err, account.CodeNotFound) {
			return otp.ErrNotFound()
		}
		return err
	}
	if _, err := s.otps.Verify(ctx, a.ID.String(), otp.PurposeOther, code); err != nil {
		return err
	}

	hash, err := s.passwords.HashPassword(newPassword)
	if err != nil {
		return errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	a.SetPasswordHash(hash)
	if err := s.repo.Save(ctx, *a); err != nil {
		return err
	}

	if err := s.otps.Discard(ctx, a.ID.String(), otp.PurposeOther); err != nil {
		logx.WithField("account_id", a.ID).Warnf("Failed to discard reset code: %v", err)
	}
	return nil
}

// ChangePassword replaces the password of a signed-in account after checking the
// current one. The HTTP route gates it on a fresh profile_update verification.
func (s *AccountService) ChangePassword(ctx context.Context, id kernel.AccountID, current, next string) error {
	if err := s.checkPassword(next); err != nil {
		return err
	}
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.passwords.VerifyPassword(a.PasswordHash, current) {
		return account.ErrInvalidCredentials()
	}
	hash, err := s.passwords.HashPassword(next)
	if err != nil {
		return errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	a.SetPasswordHash(hash)
	return s.repo.Save(ctx, *a)
}

func (s *AccountService) Get(ctx context.Context, id kernel.AccountID) (*account.Account, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *AccountService) List(ctx context.Context, opts account.ListOptions) (*account.ListResult, error) {
	accounts, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &account.ListResult{Accounts: accounts, Total: total}, nil
}

// SetStatus suspends or reactivates an account.
func (s *AccountService) SetStatus(ctx context.Context, id kernel.AccountID, status account.Status) (*account.Account, error) {
	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch status {
	case account.StatusActive:
		err = a.Activate()
	case account.StatusSuspended:
		err = a.Suspend()
	default:
		err = account.ErrInvalidInput().WithDetail("status", status)
	}
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// Credit adds funds to an account's balance.
func (s *AccountService) Credit(ctx context.Context, id kernel.AccountID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, account.ErrInvalidInput().WithDetail("amount", amount.String())
	}
	balance, err := s.repo.AdjustBalance(ctx, id, amount)
	if err != nil {
		return decimal.Zero, err
	}
	logx.WithFields(logx.Fields{"account_id": id, "amount": amount.String()}).Info("Account credited")
	return balance, nil
}

// SubjectForEmail resolves the OTP subject for /otp requests.
func (s *AccountService) SubjectForEmail(ctx context.Context, email string) (string, error) {
	a, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return a.ID.String(), nil
}

// EmailForSubject is the recipient lookup used by the code notifier.
func (s *AccountService) EmailForSubject(ctx context.Context, subjectID string) (string, error) {
	a, err := s.repo.FindByID(ctx, kernel.AccountID(subjectID))
	if err != nil {
		return "", err
	}
	return a.Email, nil
}

func (s *AccountService) checkPassword(password string) error {
	minLength := s.config.MinLength
	if minLength <= 0 {
		minLength = 8
	}
	if len(password) < minLength {
		return account.ErrWeakPassword().WithDetail("min_length", minLength)
	}
	return nil
}

func parseEmail(raw string) (string, error) {
	email := account.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", account.ErrInvalidInput().WithDetail("field", "email")
	}
	return email, nil
}
