package otpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
)

// SubjectFunc extracts the subject of the current request, usually from the auth context.
type SubjectFunc func(c *fiber.Ctx) (string, error)

// RequireVerified rejects the request unless the subject holds a fresh verified
// code for purpose.
func RequireVerified(service *otpsrv.OTPService, purpose otp.Purpose, subject SubjectFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subjectID, err := subject(c)
		if err != nil {
			return err
		}
		if err := service.RequireVerified(c.Context(), subjectID, purpose); err != nil {
			return err
		}
		return c.Next()
	}
}
