package withdrawalapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/auth"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal/withdrawalsrv"
)

type Handlers struct {
	service *withdrawalsrv.WithdrawalService
	auth    *auth.Middleware
}

func NewHandlers(service *withdrawalsrv.WithdrawalService, mw *auth.Middleware) *Handlers {
	return &Handlers{service: service, auth: mw}
}

func (h *Handlers) RegisterRoutes(router fiber.Router) {
	g := router.Group("/withdrawals", h.auth.Authenticate())
	g.Post("/", h.Create)
	g.Get("/", h.ListMine)
	g.Get("/:id", h.Get)
	g.Post("/:id/verify", h.VerifyPIN)
	g.Post("/:id/cancel", h.Cancel)

	g.Post("/:id/generate-pin", h.auth.RequireAdmin(), h.RegeneratePIN)
	g.Post("/:id/complete", h.auth.RequireAdmin(), h.Complete)
	g.Post("/:id/reject", h.auth.RequireAdmin(), h.Reject)

	admin := router.Group("/admin/withdrawals", h.auth.Authenticate(), h.auth.RequireAdmin())
	admin.Get("/", h.ListAll)
}

type VerifyPINRequest struct {
	PIN string `json:"pin"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) Create(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	var req withdrawal.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}

	w, err := h.service.Create(c.Context(), ac.AccountID, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"withdrawal": w,
		"message":    "A PIN has been sent to your email to authorize this withdrawal",
	})
}

func (h *Handlers) ListMine(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	res, err := h.service.ListByAccount(c.Context(), ac.AccountID, listOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) ListAll(c *fiber.Ctx) error {
	opts := listOptions(c)
	opts.AccountID = kernel.AccountID(c.Query("account_id"))
	res, err := h.service.ListAll(c.Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) Get(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	w, err := h.service.Get(c.Context(), withdrawalID(c), ac)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

func (h *Handlers) VerifyPIN(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	var req VerifyPINRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}

	w, err := h.service.VerifyPIN(c.Context(), withdrawalID(c), ac, req.PIN)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"verified": true, "withdrawal": w})
}

func (h *Handlers) Cancel(c *fiber.Ctx) error {
	ac, err := auth.MustAuthContext(c)
	if err != nil {
		return err
	}
	w, err := h.service.Cancel(c.Context(), withdrawalID(c), ac)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

func (h *Handlers) RegeneratePIN(c *fiber.Ctx) error {
	w, err := h.service.RegeneratePIN(c.Context(), withdrawalID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"withdrawal": w,
		"message":    "A new PIN has been sent to the account owner",
	})
}

func (h *Handlers) Complete(c *fiber.Ctx) error {
	w, err := h.service.Complete(c.Context(), withdrawalID(c))
	if err != nil {
		return err
	}
	return c.JSON(w)
}

func (h *Handlers) Reject(c *fiber.Ctx) error {
	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.New("Invalid request body", errx.TypeValidation)
	}
	w, err := h.service.Reject(c.Context(), withdrawalID(c), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

func withdrawalID(c *fiber.Ctx) kernel.WithdrawalID {
	return kernel.WithdrawalID(c.Params("id"))
}

func listOptions(c *fiber.Ctx) withdrawal.ListOptions {
	return withdrawal.ListOptions{
		Status: withdrawal.Status(c.Query("status")),
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}
}
