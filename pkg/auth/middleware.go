package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
)

const authLocalsKey = "auth"

type Middleware struct {
	tokens *JWTService
}

func NewMiddleware(tokens *JWTService) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate accepts a bearer token or an access_token cookie and stores the
// caller in the request locals.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return ErrUnauthorized()
		}

		claims, err := m.tokens.ValidateAccessToken(token)
		if err != nil {
			return err
		}

		c.Locals(authLocalsKey, &kernel.AuthContext{
			AccountID: claims.AccountID,
			Email:     claims.Email,
			Role:      claims.Role,
		})
		return c.Next()
	}
}

// RequireAdmin must run after Authenticate.
func (m *Middleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := GetAuthContext(c)
		if !ok {
			return ErrUnauthorized()
		}
		if !ac.IsAdmin() {
			return ErrForbidden().WithDetail("required_role", kernel.RoleAdmin)
		}
		return c.Next()
	}
}

func GetAuthContext(c *fiber.Ctx) (*kernel.AuthContext, bool) {
	ac, ok := c.Locals(authLocalsKey).(*kernel.AuthContext)
	return ac, ok && ac.IsValid()
}

// MustAuthContext returns the caller or an UNAUTHORIZED error.
func MustAuthContext(c *fiber.Ctx) (*kernel.AuthContext, error) {
	ac, ok := GetAuthContext(c)
	if !ok {
		return nil, ErrUnauthorized()
	}
	return ac, nil
}

// Subject resolves the OTP subject of an authenticated request.
func Subject(c *fiber.Ctx) (string, error) {
	ac, err := MustAuthContext(c)
	if err != nil {
		return "", err
	}
	return ac.AccountID.String(), nil
}

// WithAuthContext stores ac in the request locals. Used by tests and internal routes.
func WithAuthContext(c *fiber.Ctx, ac *kernel.AuthContext) {
	c.Locals(authLocalsKey, ac)
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
