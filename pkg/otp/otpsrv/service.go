package otpsrv

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/eventx"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/influence20/bluerocksite-sub000/pkg/metricx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
)

// IssueResult describes an issued code. The plaintext only ever goes to the notifier.
type IssueResult struct {
	SubjectID string      `json:"subject_id"`
	Purpose   otp.Purpose `json:"purpose"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type VerifyResult struct {
	SubjectID  string      `json:"subject_id"`
	Purpose    otp.Purpose `json:"purpose"`
	VerifiedAt time.Time   `json:"verified_at"`
}

type Option func(*OTPService)

// WithClock replaces time.Now for issuance, verification and freshness checks.
func WithClock(now otp.Clock) Option {
	return func(s *OTPService) { s.now = now }
}

func WithPublisher(p eventx.Publisher) Option {
	return func(s *OTPService) { s.events = p }
}

// WithPurposeTTL overrides the default expiration for one purpose.
func WithPurposeTTL(purpose otp.Purpose, ttl time.Duration) Option {
	return func(s *OTPService) { s.ttls[purpose] = ttl }
}

type OTPService struct {
	store    otp.Store
	notifier otp.Notifier
	config   config.OTPConfig
	ttls     map[otp.Purpose]time.Duration
	now      otp.Clock
	gen      *otp.Generator
	events   eventx.Publisher
}

func NewOTPService(store otp.Store, notifier otp.Notifier, cfg config.OTPConfig, opts ...Option) *OTPService {
	s := &OTPService{
		store:    store,
		notifier: notifier,
		config:   cfg,
		ttls:     make(map[otp.Purpose]time.Duration),
		now:      time.Now,
		events:   eventx.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gen = otp.NewGenerator(s.now)
	return s
}

// TTL returns the expiration applied to new codes of purpose.
func (s *OTPService) TTL(purpose otp.Purpose) time.Duration {
	if ttl, ok := s.ttls[purpose]; ok {
		return ttl
	}
	return s.config.ExpirationTime
}

// Issue supersedes any code for (subjectID, purpose) with a fresh one and delivers it.
// The new record is committed before delivery and removed again if delivery fails.
func (s *OTPService) Issue(ctx context.Context, subjectID string, purpose otp.Purpose) (*IssueResult, error) {
	if err := validate(subjectID, purpose); err != nil {
		return nil, err
	}
	return s.issue(ctx, subjectID, purpose, time.Time{})
}

// Resend behaves like Issue unless the current code was issued inside the throttle window.
func (s *OTPService) Resend(ctx context.Context, subjectID string, purpose otp.Purpose) (*IssueResult, error) {
	if err := validate(subjectID, purpose); err != nil {
		return nil, err
	}

	return s.issue(ctx, subjectID, purpose, s.now().Add(-s.config.ResendThrottle))
}

// issue stores a new code unless the store reports one issued after cutoff.
func (s *OTPService) issue(ctx context.Context, subjectID string, purpose otp.Purpose, cutoff time.Time) (*IssueResult, error) {
	gen, err := s.gen.Generate(s.config.CodeLength, s.TTL(purpose))
	if err != nil {
		return nil, errx.Wrap(err, "failed to generate code", errx.TypeInternal)
	}

	code := &otp.Code{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Purpose:   purpose,
		Secret: otp.Secret{
			CodeHash:    gen.Hash,
			IssuedAt:    gen.IssuedAt,
			ExpiresAt:   gen.ExpiresAt,
			MaxAttempts: s.config.MaxAttempts,
		},
	}

	current, err := s.store.Replace(ctx, code, cutoff)
	if err != nil {
		if _, ok := errx.As(err); ok {
			return nil, err
		}
		return nil, errx.Wrap(err, "failed to save code", errx.TypeInternal)
	}
	if current != nil {
		wait := s.config.ResendThrottle - s.now().Sub(current.IssuedAt)
		return nil, otp.ErrThrottled().WithDetail("retry_after", retryAfter(wait))
	}

	delivery := otp.Delivery{
		SubjectID: subjectID,
		Purpose:   purpose,
		Code:      gen.Plaintext,
		ExpiresAt: gen.ExpiresAt,
	}
	if err := s.notifier.SendCode(ctx, delivery); err != nil {
		log := logx.WithFields(logx.Fields{"subject_id": subjectID, "purpose": purpose})
		if delErr := s.store.DeleteByID(ctx, code.ID); delErr != nil {
			log.Errorf("Failed to roll back undelivered code: %v", delErr)
		}
		log.Errorf("Code delivery failed: %v", err)
		s.publish(ctx, eventx.New(eventx.OTPDeliveryFailed, subjectID, map[string]any{"purpose": purpose}))
		return nil, otp.ErrDeliveryFailed().WithCause(err)
	}

	metricx.OTPIssued.WithLabelValues(purpose.String()).Inc()
	s.publish(ctx, eventx.New(eventx.OTPIssued, subjectID, map[string]any{
		"purpose":    purpose,
		"expires_at": gen.ExpiresAt,
	}))

	return &IssueResult{
		SubjectID: subjectID,
		Purpose:   purpose,
		IssuedAt:  gen.IssuedAt,
		ExpiresAt: gen.ExpiresAt,
	}, nil
}

// Verify runs one attempt against the current code for (subjectID, purpose).
// The attempt is counted atomically by the store whatever the outcome.
func (s *OTPService) Verify(ctx context.Context, subjectID string, purpose otp.Purpose, submitted string) (*VerifyResult, error) {
	if err := validate(subjectID, purpose); err != nil {
		return nil, err
	}
	if submitted == "" {
		return nil, errx.New("code is required", errx.TypeValidation)
	}

	now := s.now()
	code, err := s.store.Verify(ctx, subjectID, purpose, func(c *otp.Code) error {
		return c.Check(now, submitted)
	})
	metricx.OTPVerify.WithLabelValues(purpose.String(), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventx.New(eventx.OTPVerified, subjectID, map[string]any{"purpose": purpose}))

	return &VerifyResult{
		SubjectID:  code.SubjectID,
		Purpose:    code.Purpose,
		VerifiedAt: *code.VerifiedAt,
	}, nil
}

// RequireVerified gates a sensitive operation on a fresh verification for
// (subjectID, purpose). A passing check leaves the record in place unless the
// service is configured for single use.
func (s *OTPService) RequireVerified(ctx context.Context, subjectID string, purpose otp.Purpose) error {
	if err := validate(subjectID, purpose); err != nil {
		return err
	}

	code, err := s.store.Latest(ctx, subjectID, purpose)
	if err != nil {
		return errx.Wrap(err, "failed to load verification", errx.TypeInternal)
	}
	if code == nil || !code.Verified || code.VerifiedAt == nil {
		return otp.ErrVerificationRequired().WithDetail("purpose", purpose)
	}
	if !code.IsFresh(s.now(), s.config.FreshnessWindow) {
		return otp.ErrVerificationExpired().
			WithDetail("purpose", purpose).
			WithDetail("verified_at", *code.VerifiedAt)
	}

	if s.config.SingleUse {
		if err := s.store.DeleteByID(ctx, code.ID); err != nil {
			return errx.Wrap(err, "failed to consume verification", errx.TypeInternal)
		}
	}
	return nil
}

// Discard removes any code for (subjectID, purpose).
func (s *OTPService) Discard(ctx context.Context, subjectID string, purpose otp.Purpose) error {
	if err := s.store.Delete(ctx, subjectID, purpose); err != nil {
		return errx.Wrap(err, "failed to discard code", errx.TypeInternal)
	}
	return nil
}

func (s *OTPService) publish(ctx context.Context, event eventx.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		logx.WithField("type", event.Type).Warnf("Failed to publish event: %v", err)
	}
}

func validate(subjectID string, purpose otp.Purpose) error {
	if subjectID == "" {
		return errx.New("subject is required", errx.TypeValidation)
	}
	if !purpose.IsValid() {
		return otp.ErrInvalidPurpose().WithDetail("purpose", purpose)
	}
	return nil
}

// retryAfter rounds the remaining wait up to whole seconds, never below one.
func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func outcome(err error) string {
	if err == nil {
		return "verified"
	}
	if e, ok := errx.As(err); ok {
		return e.Code
	}
	return "error"
}
