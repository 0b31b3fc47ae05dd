package withdrawal

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/shopspring/decimal"
)

// ============================================================================
// Status
// ============================================================================

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusRejected, StatusCancelled},
}

// CanTransition reports whether a withdrawal may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
	MethodWire         Method = "wire"
)

func (m Method) IsValid() bool {
	switch m {
	case MethodBankTransfer, MethodCrypto, MethodWire:
		return true
	}
	return false
}

// ============================================================================
// Withdrawal Entity
// ============================================================================

// Withdrawal is a client's request to move funds out. It carries its own PIN, so
// there is exactly one PIN per withdrawal and it is never superseded by another
// withdrawal's PIN.
type Withdrawal struct {
	ID             kernel.WithdrawalID `json:"id"`
	AccountID      kernel.AccountID    `json:"account_id"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	Method         Method              `json:"method"`
	Destination    string              `json:"destination"`
	Status         Status              `json:"status"`
	PIN            otp.Secret          `json:"pin"`
	Note           string              `json:"note,omitempty"`
	RejectedReason string              `json:"rejected_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	ProcessedAt    *time.Time          `json:"processed_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	RejectedAt     *time.Time          `json:"rejected_at,omitempty"`
}

// TransitionTo moves the withdrawal along the state machine and stamps the
// matching timestamp.
func (w *Withdrawal) TransitionTo(to Status, now time.Time) error {
	if !CanTransition(w.Status, to) {
		return ErrInvalidTransition().
			WithDetail("from", w.Status).
			WithDetail("to", to)
	}
	w.Status = to
	w.UpdatedAt = now
	switch to {
	case StatusProcessing:
		w.ProcessedAt = &now
	case StatusCompleted:
		w.CompletedAt = &now
	case StatusCancelled:
		w.CancelledAt = &now
	case StatusRejected:
		w.RejectedAt = &now
	}
	return nil
}

// VerifyPIN runs one PIN attempt. The first correct PIN moves a pending withdrawal
// to processing; any later attempt is refused by the PIN itself, so the transition
// happens once. Attempts are recorded on the entity whatever the outcome.
func (w *Withdrawal) VerifyPIN(now time.Time, pin string) error {
	if w.Status != StatusPending && !w.PIN.Verified {
		return ErrNotPending().WithDetail("status", w.Status)
	}
	if err := w.PIN.Check(now, pin); err != nil {
		return err
	}
	return w.TransitionTo(StatusProcessing, now)
}

// ResetPIN replaces the PIN of a pending withdrawal.
func (w *Withdrawal) ResetPIN(gen otp.Generated, maxAttempts int) error {
	if w.Status != StatusPending {
		return ErrNotPending().WithDetail("status", w.Status)
	}
	w.PIN.Reset(gen.Hash, gen.IssuedAt, gen.ExpiresAt, maxAttempts)
	w.UpdatedAt = gen.IssuedAt
	return nil
}

func (w *Withdrawal) Reject(reason string, now time.Time) error {
	if err := w.TransitionTo(StatusRejected, now); err != nil {
		return err
	}
	w.RejectedReason = strings.TrimSpace(reason)
	return nil
}

// ============================================================================
// DTOs
// ============================================================================

type CreateRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      Method          `json:"method"`
	Destination string          `json:"destination"`
	Note        string          `json:"note"`
}

type ListOptions struct {
	AccountID kernel.AccountID
	Status    Status
	Limit     int
	Offset    int
}

type ListResult struct {
	Withdrawals []*Withdrawal `json:"withdrawals"`
	Total       int           `json:"total"`
}

// Receipt is archived when a withdrawal completes.
type Receipt struct {
	WithdrawalID kernel.WithdrawalID `json:"withdrawal_id"`
	AccountID    kernel.AccountID    `json:"account_id"`
	Amount       decimal.Decimal     `json:"amount"`
	Currency     string              `json:"currency"`
	Method       Method              `json:"method"`
	Destination  string              `json:"destination"`
	Balance      decimal.Decimal     `json:"balance_after"`
	RequestedAt  time.Time           `json:"requested_at"`
	CompletedAt  time.Time           `json:"completed_at"`
}

// ReceiptPath is where the receipt of a withdrawal is stored.
func ReceiptPath(accountID kernel.AccountID, id kernel.WithdrawalID) string {
	return "receipts/" + accountID.String() + "/" + id.String() + ".json"
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("WITHDRAWAL")

var (
	CodeNotFound          = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Withdrawal not found")
	CodeInvalidAmount     = ErrRegistry.Register("INVALID_AMOUNT", errx.TypeValidation, http.StatusBadRequest, "Amount must be greater than zero")
	CodeInvalidCurrency   = ErrRegistry.Register("INVALID_CURRENCY", errx.TypeValidation, http.StatusBadRequest, "Unsupported currency")
	CodeInvalidMethod     = ErrRegistry.Register("INVALID_METHOD", errx.TypeValidation, http.StatusBadRequest, "Unsupported withdrawal method")
	CodeInvalidInput      = ErrRegistry.Register("INVALID_INPUT", errx.TypeValidation, http.StatusBadRequest, "Invalid withdrawal data")
	CodeInvalidTransition = ErrRegistry.Register("INVALID_TRANSITION", errx.TypeConflict, http.StatusConflict, "Withdrawal cannot move to the requested status")
	CodeNotPending        = ErrRegistry.Register("NOT_PENDING", errx.TypeConflict, http.StatusConflict, "Withdrawal is no longer pending")
	CodeAccessDenied      = ErrRegistry.Register("ACCESS_DENIED", errx.TypeAuthorization, http.StatusForbidden, "Withdrawal belongs to another account")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrInvalidAmount() *errx.Error {
	return ErrRegistry.New(CodeInvalidAmount)
}

func ErrInvalidCurrency() *errx.Error {
	return ErrRegistry.New(CodeInvalidCurrency)
}

func ErrInvalidMethod() *errx.Error {
	return ErrRegistry.New(CodeInvalidMethod)
}

func ErrInvalidInput() *errx.Error {
	return ErrRegistry.New(CodeInvalidInput)
}

func ErrInvalidTransition() *errx.Error {
	return ErrRegistry.New(CodeInvalidTransition)
}

func ErrNotPending() *errx.Error {
	return ErrRegistry.New(CodeNotPending)
}

func ErrAccessDenied() *errx.Error {
	return ErrRegistry.New(CodeAccessDenied)
}
