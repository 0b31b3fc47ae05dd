package otpsrv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpinfra"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []otp.Delivery
	err  error
}

func (n *captureNotifier) SendCode(ctx context.Context, d otp.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, d)
	return nil
}

func (n *captureNotifier) last(t *testing.T) otp.Delivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no code delivered")
	}
	return n.sent[len(n.sent)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() config.OTPConfig {
	return config.OTPConfig{
		CodeLength:      6,
		ExpirationTime:  10 * time.Minute,
		MaxAttempts:     5,
		ResendThrottle:  60 * time.Second,
		FreshnessWindow: 30 * time.Minute,
	}
}

type fixture struct {
	svc      *OTPService
	store    *otpinfra.MemoryStore
	notifier *captureNotifier
	clock    *fakeClock
}

func newFixture(cfg config.OTPConfig, opts ...Option) *fixture {
	f := &fixture{
		store:    otpinfra.NewMemoryStore(),
		notifier: &captureNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewOTPService(f.store, f.notifier, cfg, opts...)
	return f
}

const subject = "user@example.com"

func TestIssueVerifyRoundTrip(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, subject, otp.PurposeLogin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !res.ExpiresAt.Equal(f.clock.Now().Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}

	code := f.notifier.last(t).Code
	if len(code) != 6 {
		t.Fatalf("delivered code %q has wrong length", code)
	}

	vr, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !vr.VerifiedAt.Equal(f.clock.Now()) {
		t.Errorf("VerifiedAt = %v", vr.VerifiedAt)
	}
}

func TestStoredRecordNeverHoldsPlaintext(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	plaintext := f.notifier.last(t).Code

	c, _ := f.store.Latest(ctx, subject, otp.PurposeLogin)
	if c.CodeHash == plaintext || c.CodeHash != otp.HashCode(plaintext) {
		t.Error("store must hold the SHA-256 hash, not the plaintext")
	}
}

func TestIssueSupersedesPreviousCode(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	first := f.notifier.last(t).Code
	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	second := f.notifier.last(t).Code

	if first != second {
		_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, first)
		if err == nil {
			t.Fatal("first code must not verify after a second issue")
		}
	}
	if _, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, second); err != nil {
		t.Errorf("second code: %v", err)
	}
}

func TestPurposesAreIndependent(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	login := f.notifier.last(t).Code
	_, _ = f.svc.Issue(ctx, subject, otp.PurposeProfileUpdate)

	if _, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, login); err != nil {
		t.Errorf("login code invalidated by another purpose: %v", err)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	f := newFixture(testConfig())
	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	f.clock.Advance(10*time.Minute - time.Millisecond)
	if _, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, f.notifier.last(t).Code); err != nil {
		t.Errorf("1ms before expiry: %v", err)
	}

	f = newFixture(testConfig())
	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	f.clock.Advance(10*time.Minute + time.Millisecond)
	_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, f.notifier.last(t).Code)
	if !errx.IsCode(err, otp.CodeExpired) {
		t.Errorf("1ms after expiry: got %v, want %s", err, otp.CodeExpired)
	}
}

func TestVerifyAttemptExhaustion(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	correct := f.notifier.last(t).Code
	wrong := "000000"
	if correct == wrong {
		wrong = "999999"
	}

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, wrong)
		e, ok := errx.As(err)
		if !ok || e.Code != string(otp.CodeInvalidCode) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
		if left := e.Details["attempts_left"]; left != 5-i {
			t.Errorf("attempt %d: attempts_left = %v, want %d", i, left, 5-i)
		}
	}

	_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, correct)
	if !errx.IsCode(err, otp.CodeAttemptsExhausted) {
		t.Errorf("late correct code: got %v, want %s", err, otp.CodeAttemptsExhausted)
	}
}

func TestVerifyMissingCode(t *testing.T) {
	f := newFixture(testConfig())
	_, err := f.svc.Verify(context.Background(), subject, otp.PurposeLogin, "123456")
	if !errx.IsCode(err, otp.CodeNotFound) {
		t.Errorf("got %v, want %s", err, otp.CodeNotFound)
	}
}

func TestVerifyTwiceIsRejected(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	code := f.notifier.last(t).Code
	if _, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, code); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, code)
	if !errx.IsCode(err, otp.CodeAlreadyVerified) {
		t.Errorf("second verify: got %v, want %s", err, otp.CodeAlreadyVerified)
	}
}

func TestResendThrottle(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	if _, err := f.svc.Resend(ctx, subject, otp.PurposeLogin); err != nil {
		t.Fatalf("first resend: %v", err)
	}

	f.clock.Advance(20*time.Second + 500*time.Millisecond)
	_, err := f.svc.Resend(ctx, subject, otp.PurposeLogin)
	e, ok := errx.As(err)
	if !ok || e.Code != string(otp.CodeThrottled) {
		t.Fatalf("second resend: got %v, want %s", err, otp.CodeThrottled)
	}
	if got := e.Details["retry_after"]; got != 40 {
		t.Errorf("retry_after = %v, want 40", got)
	}
	if e.HTTPStatus != 429 {
		t.Errorf("status = %d", e.HTTPStatus)
	}

	f.clock.Advance(40 * time.Second)
	if _, err := f.svc.Resend(ctx, subject, otp.PurposeLogin); err != nil {
		t.Errorf("resend after window: %v", err)
	}
	if len(f.notifier.sent) != 2 {
		t.Errorf("delivered %d codes, want 2", len(f.notifier.sent))
	}
}

func TestConcurrentResendDeliversOnce(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		throttled int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Resend(ctx, subject, otp.PurposeProfileUpdate)
			if errx.IsCode(err, otp.CodeThrottled) {
				mu.Lock()
				throttled++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("Resend: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(f.notifier.sent) != 1 {
		t.Errorf("delivered %d codes, want 1", len(f.notifier.sent))
	}
	if throttled != callers-1 {
		t.Errorf("throttled %d callers, want %d", throttled, callers-1)
	}
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()
	f.notifier.err = errors.New("smtp: connection refused")

	_, err := f.svc.Issue(ctx, subject, otp.PurposeLogin)
	e, ok := errx.As(err)
	if !ok || e.Code != string(otp.CodeDeliveryFailed) || e.HTTPStatus != 500 {
		t.Fatalf("got %v, want %s", err, otp.CodeDeliveryFailed)
	}

	if c, _ := f.store.Latest(ctx, subject, otp.PurposeLogin); c != nil {
		t.Error("undelivered code must be removed")
	}
}

func TestConcurrentVerifyNeverExceedsMaxAttempts(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()
	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, "1")
			if errx.IsCode(err, otp.CodeInvalidCode) {
				mu.Lock()
				invalid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if invalid != 5 {
		t.Errorf("%d attempts were counted, want exactly 5", invalid)
	}
	c, _ := f.store.Latest(ctx, subject, otp.PurposeLogin)
	if c.Attempts != c.MaxAttempts {
		t.Errorf("Attempts = %d, MaxAttempts = %d", c.Attempts, c.MaxAttempts)
	}
}

func TestRequireVerifiedFreshnessScenario(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeLogin); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Fatalf("before issue: got %v", err)
	}

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeLogin)
	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeLogin); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Fatalf("unverified code must not pass: got %v", err)
	}

	if _, err := f.svc.Verify(ctx, subject, otp.PurposeLogin, f.notifier.last(t).Code); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeLogin); err != nil {
		t.Fatalf("within window: %v", err)
	}
	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeLogin); err != nil {
		t.Fatalf("second check within window: %v", err)
	}
	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeProfileUpdate); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Errorf("other purpose must not be authorized: got %v", err)
	}

	f.clock.Advance(30*time.Minute + time.Second)
	err := f.svc.RequireVerified(ctx, subject, otp.PurposeLogin)
	if !errx.IsCode(err, otp.CodeVerificationExpired) {
		t.Errorf("past window: got %v, want %s", err, otp.CodeVerificationExpired)
	}
}

func TestRequireVerifiedSingleUse(t *testing.T) {
	cfg := testConfig()
	cfg.SingleUse = true
	f := newFixture(cfg)
	ctx := context.Background()

	_, _ = f.svc.Issue(ctx, subject, otp.PurposeProfileUpdate)
	_, _ = f.svc.Verify(ctx, subject, otp.PurposeProfileUpdate, f.notifier.last(t).Code)

	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeProfileUpdate); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := f.svc.RequireVerified(ctx, subject, otp.PurposeProfileUpdate); !errx.IsCode(err, otp.CodeVerificationRequired) {
		t.Errorf("second check: got %v, want %s", err, otp.CodeVerificationRequired)
	}
}

func TestPurposeTTLOverride(t *testing.T) {
	f := newFixture(testConfig(), WithPurposeTTL(otp.PurposeWithdrawal, 48*time.Hour))

	res, err := f.svc.Issue(context.Background(), subject, otp.PurposeWithdrawal)
	if err != nil {
		t.Fatal(err)
	}
	if want := f.clock.Now().Add(48 * time.Hour); !res.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}
	if f.svc.TTL(otp.PurposeLogin) != 10*time.Minute {
		t.Error("other purposes keep the default TTL")
	}
}

func TestRejectsUnknownPurpose(t *testing.T) {
	f := newFixture(testConfig())
	_, err := f.svc.Issue(context.Background(), subject, otp.Purpose("signup"))
	if !errx.IsCode(err, otp.CodeInvalidPurpose) {
		t.Errorf("got %v, want %s", err, otp.CodeInvalidPurpose)
	}
}
