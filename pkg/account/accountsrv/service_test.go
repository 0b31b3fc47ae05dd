package accountsrv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/account/accountinfra"
	"github.com/influence20/bluerocksite-sub000/pkg/auth"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpinfra"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
	"github.com/shopspring/decimal"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *inbox) SendCode(ctx context.Context, d otp.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[otp.Key(d.SubjectID, d.Purpose)] = d.Code
	return nil
}

func (n *inbox) code(t *testing.T, subjectID string, purpose otp.Purpose) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.codes[otp.Key(subjectID, purpose)]
	if !ok {
		t.Fatalf("no %s code delivered to %s", purpose, subjectID)
	}
	return c
}

type fixture struct {
	svc    *AccountService
	repo   *accountinfra.MemoryAccountRepository
	otps   *otpsrv.OTPService
	inbox  *inbox
	tokens *auth.JWTService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := accountinfra.NewMemoryAccountRepository()
	box := &inbox{codes: make(map[string]string)}
	otps := otpsrv.NewOTPService(otpinfra.NewMemoryStore(), box, config.OTPConfig{
		CodeLength:      6,
		ExpirationTime:  10 * time.Minute,
		MaxAttempts:     5,
		ResendThrottle:  time.Minute,
		FreshnessWindow: 30 * time.Minute,
	})
	tokens := auth.NewJWTServiceFromConfig(config.JWTConfig{
		SecretKey:       "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		Issuer:          "test",
	})
	svc := NewAccountService(repo, accountinfra.NewBcryptPasswordService(4), otps, tokens, config.PasswordConfig{MinLength: 8})
	return &fixture{svc: svc, repo: repo, otps: otps, inbox: box, tokens: tokens}
}

// registerVerified signs up and confirms the email of a client account.
func (f *fixture) registerVerified(t *testing.T, email, password string) *account.Account {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.Register(ctx, account.RegisterRequest{Email: email, Password: password, Name: "Test User"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := f.inbox.code(t, res.Account.ID.String(), otp.PurposeEmailVerification)
	a, err := f.svc.ConfirmEmail(ctx, email, code)
	if err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	return a
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, account.RegisterRequest{Email: " Jane@Example.com ", Password: "s3cretpass", Name: "Jane"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Account.Email != "jane@example.com" || res.Account.EmailVerified || !res.VerificationSent {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Account.PasswordHash == "s3cretpass" {
		t.Error("password stored in plaintext")
	}

	_, err = f.svc.Register(ctx, account.RegisterRequest{Email: "jane@example.com", Password: "s3cretpass", Name: "Jane"})
	if !errx.IsCode(err, account.CodeAlreadyExists) {
		t.Errorf("duplicate Register = %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  account.RegisterRequest
		code errx.Code
	}{
		{"bad email", account.RegisterRequest{Email: "nope", Password: "s3cretpass", Name: "A"}, account.CodeInvalidInput},
		{"missing name", account.RegisterRequest{Email: "a@example.com", Password: "s3cretpass"}, account.CodeInvalidInput},
		{"short password", account.RegisterRequest{Email: "a@example.com", Password: "short", Name: "A"}, account.CodeWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), tt.req); !errx.IsCode(err, tt.code) {
				t.Errorf("Register = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.Register(ctx, account.RegisterRequest{Email: "a@example.com", Password: "s3cretpass", Name: "A"})
	if _, err := f.svc.Login(ctx, "a@example.com", "s3cretpass"); !errx.IsCode(err, account.CodeEmailNotVerified) {
		t.Fatalf("Login before verification = %v", err)
	}

	code := f.inbox.code(t, res.Account.ID.String(), otp.PurposeEmailVerification)
	if _, err := f.svc.ConfirmEmail(ctx, "a@example.com", code); err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}

	login, err := f.svc.Login(ctx, "a@example.com", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.TwoFactorRequired || login.Tokens == nil {
		t.Fatalf("expected tokens, got %+v", login)
	}
	claims, err := f.tokens.ValidateAccessToken(login.Tokens.AccessToken)
	if err != nil || claims.AccountID != res.Account.ID {
		t.Errorf("access token: %v, %v", claims, err)
	}
	if login.Account.LastLoginAt == nil {
		t.Error("last login not recorded")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.registerVerified(t, "a@example.com", "s3cretpass")

	for _, email := range []string{"a@example.com", "ghost@example.com"} {
		if _, err := f.svc.Login(context.Background(), email, "wrongpass"); !errx.IsCode(err, account.CodeInvalidCredentials) {
			t.Errorf("%s: Login = %v", email, err)
		}
	}
}

func TestTwoFactorLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.registerVerified(t, "a@example.com", "s3cretpass")
	subject := a.ID.String()

	if _, err := f.svc.SetTwoFactor(ctx, a.ID, true); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Fatalf("SetTwoFactor without verification = %v", err)
	}

	if _, err := f.otps.Issue(ctx, subject, otp.PurposeProfileUpdate); err != nil {
		t.Fatal(err)
	}
	if _, err := f.otps.Verify(ctx, subject, otp.PurposeProfileUpdate, f.inbox.code(t, subject, otp.PurposeProfileUpdate)); err != nil {
		t.Fatal(err)
	}
	if updated, err := f.svc.SetTwoFactor(ctx, a.ID, true); err != nil || !updated.TwoFactorEnabled {
		t.Fatalf("SetTwoFactor = %v, %v", updated, err)
	}

	login, err := f.svc.Login(ctx, "a@example.com", "s3cretpass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !login.TwoFactorRequired || login.Tokens != nil || login.CodeExpiresAt == nil {
		t.Fatalf("expected two-factor challenge, got %+v", login)
	}

	if _, err := f.svc.LoginVerified(ctx, a.ID); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Errorf("session before code verification = %v", err)
	}

	done, err := f.svc.CompleteLogin(ctx, "a@example.com", f.inbox.code(t, subject, otp.PurposeLogin))
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if done.Tokens == nil || done.Tokens.AccessToken == "" {
		t.Error("missing tokens after 2FA")
	}
}

func TestLoginVerifiedRequiresVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, account.RegisterRequest{Email: "a@example.com", Password: "s3cretpass", Name: "A"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	subject := res.Account.ID.String()

	if _, err := f.otps.Issue(ctx, subject, otp.PurposeLogin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.otps.Verify(ctx, subject, otp.PurposeLogin, f.inbox.code(t, subject, otp.PurposeLogin)); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.LoginVerified(ctx, res.Account.ID)
	if !errx.IsCode(err, account.CodeEmailNotVerified) {
		t.Fatalf("LoginVerified on unverified email = %v", err)
	}
	if got != nil {
		t.Errorf("session opened: %+v", got)
	}
}

func TestUpdateProfileGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.registerVerified(t, "a@example.com", "s3cretpass")
	name := "Renamed"

	if _, err := f.svc.UpdateProfile(ctx, a.ID, account.UpdateProfileRequest{Name: &name}); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Fatalf("UpdateProfile without verification = %v", err)
	}

	subject := a.ID.String()
	_, _ = f.otps.Issue(ctx, subject, otp.PurposeProfileUpdate)
	_, _ = f.otps.Verify(ctx, subject, otp.PurposeProfileUpdate, f.inbox.code(t, subject, otp.PurposeProfileUpdate))

	updated, err := f.svc.UpdateProfile(ctx, a.ID, account.UpdateProfileRequest{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name = %q", updated.Name)
	}
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.registerVerified(t, "a@example.com", "s3cretpass")

	if err := f.svc.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Errorf("unknown email must not be reported: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Errorf("throttled reset must not be reported: %v", err)
	}

	code := f.inbox.code(t, a.ID.String(), otp.PurposeOther)
	if err := f.svc.ResetPassword(ctx, "a@example.com", code, "n3wpassword"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@example.com", "s3cretpass"); !errx.IsCode(err, account.CodeInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@example.com", "n3wpassword"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, "a@example.com", code, "an0therpass"); !errx.IsCode(err, otp.CodeNotFound) {
		t.Errorf("reset code reused: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerVerified(t, "a@example.com", "s3cretpass")
	login, _ := f.svc.Login(ctx, "a@example.com", "s3cretpass")

	pair, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	if err != nil || pair.AccessToken == "" {
		t.Fatalf("Refresh = %v, %v", pair, err)
	}
	if _, err := f.svc.Refresh(ctx, login.Tokens.AccessToken); err == nil {
		t.Error("access token accepted as refresh token")
	}
}

func TestSuspendBlocksLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.registerVerified(t, "a@example.com", "s3cretpass")

	if _, err := f.svc.SetStatus(ctx, a.ID, account.StatusSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@example.com", "s3cretpass"); !errx.IsCode(err, account.CodeSuspended) {
		t.Errorf("Login while suspended = %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, a.ID, account.StatusSuspended); !errx.IsCode(err, account.CodeInvalidStatus) {
		t.Errorf("double suspend = %v", err)
	}
}

func TestCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.registerVerified(t, "a@example.com", "s3cretpass")

	balance, err := f.svc.Credit(ctx, a.ID, decimal.RequireFromString("150.25"))
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("balance = %s", balance)
	}
	if _, err := f.svc.Credit(ctx, a.ID, decimal.NewFromInt(-5)); !errx.IsCode(err, account.CodeInvalidInput) {
		t.Errorf("negative credit = %v", err)
	}
	if _, err := f.repo.AdjustBalance(ctx, a.ID, decimal.NewFromInt(-200)); !errx.IsCode(err, account.CodeInsufficientFunds) {
		t.Errorf("overdraft = %v", err)
	}

	// Profile saves must not clobber the balance.
	stored, _ := f.svc.Get(ctx, a.ID)
	stored.Name = "Other"
	stored.Balance = decimal.Zero
	_ = f.repo.Save(ctx, *stored)
	if got, _ := f.svc.Get(ctx, a.ID); !got.Balance.Equal(balance) {
		t.Errorf("balance after save = %s", got.Balance)
	}
}

func TestRecipientLookups(t *testing.T) {
	f := newFixture(t)
	a := f.registerVerified(t, "a@example.com", "s3cretpass")
	ctx := context.Background()

	subject, err := f.svc.SubjectForEmail(ctx, "A@example.com")
	if err != nil || subject != a.ID.String() {
		t.Errorf("SubjectForEmail = %q, %v", subject, err)
	}
	email, err := f.svc.EmailForSubject(ctx, subject)
	if err != nil || email != "a@example.com" {
		t.Errorf("EmailForSubject = %q, %v", email, err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.svc.EnsureAdmin(ctx, "root@example.com", "adminpass1")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !admin.IsAdmin() || !admin.EmailVerified {
		t.Errorf("bootstrap account = %+v", admin)
	}

	again, err := f.svc.EnsureAdmin(ctx, "ROOT@example.com", "different-pass")
	if err != nil || again.ID != admin.ID {
		t.Fatalf("second EnsureAdmin = %v, %v", again, err)
	}

	res, err := f.svc.Login(ctx, "root@example.com", "adminpass1")
	if err != nil || res.Tokens == nil {
		t.Fatalf("admin login = %+v, %v", res, err)
	}
	claims, err := f.tokens.ValidateAccessToken(res.Tokens.AccessToken)
	if err != nil || claims.Role != kernel.RoleAdmin {
		t.Errorf("claims = %+v, %v", claims, err)
	}
}
