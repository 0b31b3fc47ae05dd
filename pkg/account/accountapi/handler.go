package accountapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/account/accountsrv"
	"github.com/influence20/bluerocksite-sub000/pkg/auth"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpapi"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	service *accountsrv.AccountService
	otps    *otpsrv.OTPService
	auth    *auth.Middleware
}

func NewHandlers(service *accountsrv.AccountService, otps *otpsrv.OTPService, mw *auth.Middleware) *Handlers {
	return &Handlers{service: service, otps: otps, auth: mw}
}

func (h *Handlers) RegisterRoutes(router fiber.Router) {
	public := router.Group("/auth")
	public.Post("/register", h.Register)
	public.Post("/login", h.Login)
	public.Post("/login/verify", h.VerifyLogin)
	public.Post("/verify-email", h.VerifyEmail)
	public.Post("/password/forgot", h.ForgotPassword)
	public.Post("/password/reset", h.ResetPassword)
	public.Post("/refresh", h.Refresh)

	me := router.Group("/account", h.auth.Authenticate())
	me.Get("/me", h.Me)
	me.Put("/me", h.UpdateProfile)
	me.Put("/2fa", h.SetTwoFactor)
	me.Put("/password",
		otpapi.RequireVerified(h.otps, otp.PurposeProfileUpdate, auth.Subject),
		h.ChangePassword,
	)

	admin := router.Group("/admin/accounts", h.auth.Authenticate(), h.auth.RequireAdmin())
	admin.Get("/", h.List)
	admin.Get("/:id", h.Get)
	admin.Put("/:id/status", h.SetStatus)
	admin.Post("/:id/credit", h.Credit)
}

// ============================================================================
// Public
// ============================================================================

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CodeRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) Register(c *fiber.Ctx) error {
	var req account.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}

	res, err := h.service.Register(c.Context(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return errx.New("email and password are required", errx.TypeValidation)
	}

	res, err := h.service.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	if res.TwoFactorRequired {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.JSON(res)
}

func (h *Handlers) VerifyLogin(c *fiber.Ctx) error {
	req, err := parseCodeRequest(c)
	if err != nil {
		return err
	}
	res, err := h.service.CompleteLogin(c.Context(), req.Email, req.OTP)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) VerifyEmail(c *fiber.Ctx) error {
	req, err := parseCodeRequest(c)
	if err != nil {
		return err
	}
	a, err := h.service.ConfirmEmail(c.Context(), req.Email, req.OTP)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"verified": true, "account": a})
}

func (h *Handlers) ForgotPassword(c *fiber.Ctx) error {
	var req ForgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	if err := h.service.RequestPasswordReset(c.Context(), req.Email); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "If the address is registered, a reset code has been sent",
	})
}

func (h *Handlers) ResetPassword(c *fiber.Ctx) error {
	var req ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	if strings.TrimSpace(req.OTP) == "" {
		return errx.New("otp is required", errx.TypeValidation)
	}
	if err := h.service.ResetPassword(c.Context(), req.Email, strings.TrimSpace(req.OTP), req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Password updated"})
}

func (h *Handlers) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return errx.New("refresh_token is required", errx.TypeValidation)
	}
	pair, err := h.service.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(pair)
}

// ============================================================================
// Signed in
// ============================================================================

type TwoFactorRequest struct {
	Enabled bool `json:"enabled"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handlers) Me(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	a, err := h.service.Get(c.Context(), ac.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handlers) UpdateProfile(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	var req account.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	a, err := h.service.UpdateProfile(c.Context(), ac.AccountID, req)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handlers) SetTwoFactor(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	var req TwoFactorRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	a, err := h.service.SetTwoFactor(c.Context(), ac.AccountID, req.Enabled)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"two_factor_enabled": a.TwoFactorEnabled})
}

func (h *Handlers) ChangePassword(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	if err := h.service.ChangePassword(c.Context(), ac.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ============================================================================
// Admin
// ============================================================================

type StatusRequest struct {
	Status account.Status `json:"status"`
}

type CreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handlers) List(c *fiber.Ctx) error {
	res, err := h.service.List(c.Context(), account.ListOptions{
		Status: account.Status(c.Query("status")),
		Role:   kernel.Role(c.Query("role")),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) Get(c *fiber.Ctx) error {
	a, err := h.service.Get(c.Context(), kernel.AccountID(c.Params("id")))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handlers) SetStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	a, err := h.service.SetStatus(c.Context(), kernel.AccountID(c.Params("id")), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handlers) Credit(c *fiber.Ctx) error {
	var req CreditRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("amount must be a decimal number", errx.TypeValidation)
	}
	id := kernel.AccountID(c.Params("id"))
	balance, err := h.service.Credit(c.Context(), id, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account_id": id, "balance": balance})
}

func parseCodeRequest(c *fiber.Ctx) (*CodeRequest, error) {
	var req CodeRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, errx.New("Invalid request body", errx.TypeValidation)
	}
	req.Email = account.NormalizeEmail(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Email == "" || req.OTP == "" {
		return nil, errx.New("email and otp are required", errx.TypeValidation)
	}
	return &req, nil
}
