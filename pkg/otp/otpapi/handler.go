package otpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
)

// SubjectResolver maps an email address to the subject codes are issued for.
// It returns a NOT_FOUND error for unknown addresses.
type SubjectResolver interface {
	SubjectForEmail(ctx context.Context, email string) (string, error)
}

// VerifiedHook runs the purpose-specific side effect of a successful verification.
// The returned fields are merged into the response.
type VerifiedHook func(ctx context.Context, subjectID string) (map[string]any, error)

type Handlers struct {
	service  *otpsrv.OTPService
	subjects SubjectResolver
	hooks    map[otp.Purpose]VerifiedHook
}

func NewHandlers(service *otpsrv.OTPService, subjects SubjectResolver) *Handlers {
	return &Handlers{
		service:  service,
		subjects: subjects,
		hooks:    make(map[otp.Purpose]VerifiedHook),
	}
}

// OnVerified registers the side effect for purpose. It runs once per code, on the
// verification that flips it to verified.
func (h *Handlers) OnVerified(purpose otp.Purpose, hook VerifiedHook) {
	h.hooks[purpose] = hook
}

func (h *Handlers) RegisterRoutes(router fiber.Router) {
	g := router.Group("/otp")
	g.Post("/generate", h.Generate)
	g.Post("/verify", h.Verify)
	g.Post("/resend", h.Resend)
}

type IssueRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type VerifyRequest struct {
	Email   string `json:"email"`
	OTP     string `json:"otp"`
	Purpose string `json:"purpose"`
}

type IssueResponse struct {
	Email     string      `json:"email"`
	Purpose   otp.Purpose `json:"purpose"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *Handlers) Generate(c *fiber.Ctx) error {
	return h.issue(c, h.service.Issue)
}

func (h *Handlers) Resend(c *fiber.Ctx) error {
	return h.issue(c, h.service.Resend)
}

type issueFunc func(ctx context.Context, subjectID string, purpose otp.Purpose) (*otpsrv.IssueResult, error)

func (h *Handlers) issue(c *fiber.Ctx, fn issueFunc) error {
	var req IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}

	email, purpose, err := parseTarget(req.Email, req.Purpose)
	if err != nil {
		return err
	}
	// Login codes are only sent after a correct password.
	if purpose == otp.PurposeLogin {
		return otp.ErrPurposeReserved().WithDetail("purpose", purpose)
	}

	subjectID, err := h.subjects.SubjectForEmail(c.Context(), email)
	if err != nil {
		return err
	}

	res, err := fn(c.Context(), subjectID, purpose)
	if err != nil {
		return err
	}

	return c.JSON(IssueResponse{
		Email:     email,
		Purpose:   res.Purpose,
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *Handlers) Verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}

	email, purpose, err := parseTarget(req.Email, req.Purpose)
	if err != nil {
		return err
	}
	code := strings.TrimSpace(req.OTP)
	if code == "" {
		return errx.New("otp is required", errx.TypeValidation)
	}

	subjectID, err := h.subjects.SubjectForEmail(c.Context(), email)
	if err != nil {
		return err
	}

	res, err := h.service.Verify(c.Context(), subjectID, purpose, code)
	if err != nil {
		return err
	}

	body := fiber.Map{
		"verified":    true,
		"email":       email,
		"purpose":     res.Purpose,
		"verified_at": res.VerifiedAt,
	}
	if hook, ok := h.hooks[purpose]; ok {
		extra, err := hook(c.Context(), subjectID)
		if err != nil {
			return err
		}
		for k, v := range extra {
			body[k] = v
		}
	}
	return c.JSON(body)
}

func parseTarget(email, purpose string) (string, otp.Purpose, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", "", errx.New("A valid email is required", errx.TypeValidation)
	}
	p, err := otp.ParsePurpose(strings.TrimSpace(purpose))
	if err != nil {
		return "", "", err
	}
	return email, p, nil
}
