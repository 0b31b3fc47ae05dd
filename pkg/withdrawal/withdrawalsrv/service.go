package withdrawalsrv

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/eventx"
	"github.com/influence20/bluerocksite-sub000/pkg/fsx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/influence20/bluerocksite-sub000/pkg/metricx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal"
	"github.com/shopspring/decimal"
)

type Option func(*WithdrawalService)

func WithClock(now otp.Clock) Option {
	return func(s *WithdrawalService) { s.now = now }
}

func WithPublisher(p eventx.Publisher) Option {
	return func(s *WithdrawalService) { s.events = p }
}

type WithdrawalService struct {
	repo     withdrawal.Repository
	accounts account.Repository
	notifier otp.Notifier
	receipts fsx.FileWriter
	config   config.WithdrawalConfig
	now      otp.Clock
	gen      *otp.Generator
	events   eventx.Publisher
}

func NewWithdrawalService(
	repo withdrawal.Repository,
	accounts account.Repository,
	notifier otp.Notifier,
	receipts fsx.FileWriter,
	cfg config.WithdrawalConfig,
	opts ...Option,
) *WithdrawalService {
	s := &WithdrawalService{
		repo:     repo,
		accounts: accounts,
		notifier: notifier,
		receipts: receipts,
		config:   cfg,
		now:      time.Now,
		events:   eventx.NopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gen = otp.NewGenerator(s.now)
	return s
}

// Create records a pending withdrawal and emails its PIN to the account owner.
// If the PIN cannot be delivered the withdrawal is removed again.
func (s *WithdrawalService) Create(ctx context.Context, accountID kernel.AccountID, req withdrawal.CreateRequest) (*withdrawal.Withdrawal, error) {
	currency, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	owner, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !owner.IsActive() {
		return nil, account.ErrSuspended()
	}
	if owner.Balance.LessThan(req.Amount) {
		return nil, account.ErrInsufficientFunds().
			WithDetail("balance", owner.Balance.String()).
			WithDetail("requested", req.Amount.String())
	}

	pin, err := s.gen.Generate(s.config.PINLength, s.config.PINExpiry)
	if err != nil {
		return nil, errx.Wrap(err, "failed to generate PIN", errx.TypeInternal)
	}

	w := &withdrawal.Withdrawal{
		ID:          kernel.NewWithdrawalID(),
		AccountID:   accountID,
		Amount:      req.Amount,
		Currency:    currency,
		Method:      req.Method,
		Destination: strings.TrimSpace(req.Destination),
		Status:      withdrawal.StatusPending,
		Note:        strings.TrimSpace(req.Note),
		PIN: otp.Secret{
			CodeHash:    pin.Hash,
			IssuedAt:    pin.IssuedAt,
			ExpiresAt:   pin.ExpiresAt,
			MaxAttempts: s.config.PINMaxAttempts,
		},
		CreatedAt: pin.IssuedAt,
		UpdatedAt: pin.IssuedAt,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	if err := s.sendPIN(ctx, w, pin); err != nil {
		if delErr := s.repo.Delete(ctx, w.ID); delErr != nil {
			logx.WithField("withdrawal_id", w.ID).Errorf("Failed to remove undelivered withdrawal: %v", delErr)
		}
		return nil, err
	}

	metricx.WithdrawalTransitions.WithLabelValues(string(withdrawal.StatusPending)).Inc()
	s.publish(ctx, eventx.New(eventx.WithdrawalCreated, accountID.String(), map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount.String(),
		"currency":      w.Currency,
	}))
	return w, nil
}

// VerifyPIN runs one PIN attempt for the owner of the withdrawal. The first
// correct PIN moves it from pending to processing.
func (s *WithdrawalService) VerifyPIN(ctx context.Context, id kernel.WithdrawalID, actor *kernel.AuthContext, pin string) (*withdrawal.Withdrawal, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, errx.New("pin is required", errx.TypeValidation)
	}
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}

	now := s.now()
	w, err := s.repo.Update(ctx, id, func(_ context.Context, w *withdrawal.Withdrawal) error {
		return w.VerifyPIN(now, pin)
	})
	metricx.OTPVerify.WithLabelValues(otp.PurposeWithdrawal.String(), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, w)
	return w, nil
}

// RegeneratePIN issues a new PIN for a pending withdrawal, resetting attempts and
// expiry. If the new PIN cannot be delivered the previous one is restored.
func (s *WithdrawalService) RegeneratePIN(ctx context.Context, id kernel.WithdrawalID) (*withdrawal.Withdrawal, error) {
	pin, err := s.gen.Generate(s.config.PINLength, s.config.PINExpiry)
	if err != nil {
		return nil, errx.Wrap(err, "failed to generate PIN", errx.TypeInternal)
	}

	var previous otp.Secret
	w, err := s.repo.Update(ctx, id, func(_ context.Context, w *withdrawal.Withdrawal) error {
		previous = w.PIN
		return w.ResetPIN(pin, s.config.PINMaxAttempts)
	})
	if err != nil {
		return nil, err
	}

	if err := s.sendPIN(ctx, w, pin); err != nil {
		_, restoreErr := s.repo.Update(ctx, id, func(_ context.Context, w *withdrawal.Withdrawal) error {
			if w.PIN.CodeHash == pin.Hash {
				w.PIN = previous
			}
			return nil
		})
		if restoreErr != nil {
			logx.WithField("withdrawal_id", id).Errorf("Failed to restore previous PIN: %v", restoreErr)
		}
		return nil, err
	}

	logx.WithField("withdrawal_id", id).Info("Withdrawal PIN regenerated")
	return w, nil
}

// Cancel is allowed to the owner and to admins while the withdrawal is pending or processing.
func (s *WithdrawalService) Cancel(ctx context.Context, id kernel.WithdrawalID, actor *kernel.AuthContext) (*withdrawal.Withdrawal, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, func(_ context.Context, w *withdrawal.Withdrawal, now time.Time) error {
		return w.TransitionTo(withdrawal.StatusCancelled, now)
	})
}

// Complete debits the owner's balance and marks the withdrawal completed in one
// repository update, then archives a receipt. The debit uses the update's context
// so a failed status write never leaves the balance debited.
func (s *WithdrawalService) Complete(ctx context.Context, id kernel.WithdrawalID) (*withdrawal.Withdrawal, error) {
	var balance decimal.Decimal
	w, err := s.transition(ctx, id, func(txCtx context.Context, w *withdrawal.Withdrawal, now time.Time) error {
		if !withdrawal.CanTransition(w.Status, withdrawal.StatusCompleted) {
			return withdrawal.ErrInvalidTransition().
				WithDetail("from", w.Status).
				WithDetail("to", withdrawal.StatusCompleted)
		}
		var err error
		balance, err = s.accounts.AdjustBalance(txCtx, w.AccountID, w.Amount.Neg())
		if err != nil {
			return err
		}
		return w.TransitionTo(withdrawal.StatusCompleted, now)
	})
	if err != nil {
		return nil, err
	}

	s.writeReceipt(ctx, w, balance)
	return w, nil
}

// Reject closes a processing withdrawal without moving funds.
func (s *WithdrawalService) Reject(ctx context.Context, id kernel.WithdrawalID, reason string) (*withdrawal.Withdrawal, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, withdrawal.ErrInvalidInput().WithDetail("field", "reason")
	}
	return s.transition(ctx, id, func(_ context.Context, w *withdrawal.Withdrawal, now time.Time) error {
		return w.Reject(reason, now)
	})
}

// Get returns a withdrawal the actor may see.
func (s *WithdrawalService) Get(ctx context.Context, id kernel.WithdrawalID, actor *kernel.AuthContext) (*withdrawal.Withdrawal, error) {
	w, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(w.AccountID) {
		return nil, withdrawal.ErrAccessDenied()
	}
	return w, nil
}

func (s *WithdrawalService) ListByAccount(ctx context.Context, accountID kernel.AccountID, opts withdrawal.ListOptions) (*withdrawal.ListResult, error) {
	opts.AccountID = accountID
	return s.ListAll(ctx, opts)
}

func (s *WithdrawalService) ListAll(ctx context.Context, opts withdrawal.ListOptions) (*withdrawal.ListResult, error) {
	if opts.Status != "" && !opts.Status.IsValid() {
		return nil, withdrawal.ErrInvalidInput().WithDetail("status", opts.Status)
	}
	items, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &withdrawal.ListResult{Withdrawals: items, Total: total}, nil
}

func (s *WithdrawalService) transition(ctx context.Context, id kernel.WithdrawalID, fn func(context.Context, *withdrawal.Withdrawal, time.Time) error) (*withdrawal.Withdrawal, error) {
	now := s.now()
	w, err := s.repo.Update(ctx, id, func(txCtx context.Context, w *withdrawal.Withdrawal) error {
		return fn(txCtx, w, now)
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, w)
	return w, nil
}

func (s *WithdrawalService) transitioned(ctx context.Context, w *withdrawal.Withdrawal) {
	metricx.WithdrawalTransitions.WithLabelValues(string(w.Status)).Inc()
	logx.WithFields(logx.Fields{
		"withdrawal_id": w.ID,
		"status":        w.Status,
	}).Info("Withdrawal status changed")
	s.publish(ctx, eventx.New(eventx.WithdrawalStatus(string(w.Status)), w.AccountID.String(), map[string]any{
		"withdrawal_id": w.ID,
		"amount":        w.Amount.String(),
		"currency":      w.Currency,
	}))
}

func (s *WithdrawalService) sendPIN(ctx context.Context, w *withdrawal.Withdrawal, pin otp.Generated) error {
	err := s.notifier.SendCode(ctx, otp.Delivery{
		SubjectID: w.AccountID.String(),
		Purpose:   otp.PurposeWithdrawal,
		Code:      pin.Plaintext,
		ExpiresAt: pin.ExpiresAt,
		Attributes: map[string]string{
			"withdrawal_id": w.ID.String(),
			"amount":        w.Amount.StringFixed(2),
			"currency":      w.Currency,
		},
	})
	if err != nil {
		logx.WithField("withdrawal_id", w.ID).Errorf("PIN delivery failed: %v", err)
		return otp.ErrDeliveryFailed().WithCause(err)
	}
	return nil
}

func (s *WithdrawalService) writeReceipt(ctx context.Context, w *withdrawal.Withdrawal, balance decimal.Decimal) {
	receipt := withdrawal.Receipt{
		WithdrawalID: w.ID,
		AccountID:    w.AccountID,
		Amount:       w.Amount,
		Currency:     w.Currency,
		Method:       w.Method,
		Destination:  w.Destination,
		Balance:      balance,
		RequestedAt:  w.CreatedAt,
		CompletedAt:  *w.CompletedAt,
	}
	data, err := json.MarshalIndent(receipt, "", "  ")
	if err == nil {
		err = s.receipts.WriteFile(ctx, withdrawal.ReceiptPath(w.AccountID, w.ID), data)
	}
	if err != nil {
		logx.WithField("withdrawal_id", w.ID).Errorf("Failed to archive receipt: %v", err)
	}
}

func (s *WithdrawalService) publish(ctx context.Context, event eventx.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		logx.WithField("type", event.Type).Warnf("Failed to publish event: %v", err)
	}
}

func (s *WithdrawalService) validate(req withdrawal.CreateRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", withdrawal.ErrInvalidAmount().WithDetail("amount", req.Amount.String())
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !slices.Contains(s.config.Currencies, currency) {
		return "", withdrawal.ErrInvalidCurrency().
			WithDetail("currency", req.Currency).
			WithDetail("allowed", s.config.Currencies)
	}
	if !req.Method.IsValid() {
		return "", withdrawal.ErrInvalidMethod().WithDetail("method", req.Method)
	}
	if strings.TrimSpace(req.Destination) == "" {
		return "", withdrawal.ErrInvalidInput().WithDetail("field", "destination")
	}
	return currency, nil
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
