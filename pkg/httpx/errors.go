// Package httpx holds the fiber pieces shared by every API package.
package httpx

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/influence20/bluerocksite-sub000/pkg/errx"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
)

const RequestIDHeader = "X-Request-ID"

// ErrorHandler converts errors returned by handlers into JSON responses.
// Client errors are logged at info level; only server errors are logged as errors.
func ErrorHandler(debug bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			if v, ok := c.Locals("requestid").(string); ok {
				requestID = v
			}
		}
		log := logx.WithFields(logx.Fields{
			"path":       c.Path(),
			"method":     c.Method(),
			"ip":         c.IP(),
			"request_id": requestID,
		})

		var fe *fiber.Error
		if errors.As(err, &fe) {
			log.Infof("Request error: %v", err)
			return c.Status(fe.Code).JSON(fiber.Map{
				"error":      fe.Message,
				"code":       "FIBER_ERROR",
				"status":     fe.Code,
				"request_id": requestID,
			})
		}

		if e, ok := errx.As(err); ok {
			if e.HTTPStatus >= fiber.StatusInternalServerError {
				log.Errorf("Request error: %v", err)
			} else {
				log.Infof("Request error: %v", err)
			}

			response := fiber.Map{
				"error":      e.Message,
				"code":       e.Code,
				"type":       string(e.Type),
				"status":     e.HTTPStatus,
				"request_id": requestID,
			}
			if len(e.Details) > 0 {
				response["details"] = e.Details
				if retry, ok := e.Details["retry_after"]; ok {
					c.Set(fiber.HeaderRetryAfter, fmt.Sprint(retry))
				}
			}
			if debug && e.Err != nil {
				response["underlying_error"] = e.Err.Error()
			}
			return c.Status(e.HTTPStatus).JSON(response)
		}

		log.Errorf("Unhandled error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":      "Internal Server Error",
			"type":       string(errx.TypeInternal),
			"code":       "INTERNAL_ERROR",
			"message":    "An unexpected error occurred. Please contact support if the issue persists.",
			"request_id": requestID,
		})
	}
}

// NotFound answers requests no route matched.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Route not found",
		"code":  "ROUTE_NOT_FOUND",
		"path":  c.Path(),
	})
}
