package otp

import (
	"net/http"

	"github.com/influence20/bluerocksite-sub000/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("OTP")

var (
	CodeNotFound             = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "No active code for this request")
	CodeExpired              = ErrRegistry.Register("EXPIRED", errx.TypeValidation, http.StatusBadRequest, "Code has expired, request a new one")
	CodeAttemptsExhausted    = ErrRegistry.Register("ATTEMPTS_EXHAUSTED", errx.TypeValidation, http.StatusBadRequest, "Too many attempts, request a new code")
	CodeInvalidCode          = ErrRegistry.Register("INVALID_CODE", errx.TypeValidation, http.StatusBadRequest, "Invalid code")
	CodeAlreadyVerified      = ErrRegistry.Register("ALREADY_VERIFIED", errx.TypeConflict, http.StatusConflict, "Code has already been used")
	CodeThrottled            = ErrRegistry.Register("THROTTLED", errx.TypeRateLimit, http.StatusTooManyRequests, "Please wait before requesting another code")
	CodeDeliveryFailed       = ErrRegistry.Register("DELIVERY_FAILED", errx.TypeExternal, http.StatusInternalServerError, "Could not deliver the code")
	CodeVerificationRequired = ErrRegistry.Register("VERIFICATION_REQUIRED", errx.TypeAuthorization, http.StatusForbidden, "Verification code required for this operation")
	CodeVerificationExpired  = ErrRegistry.Register("VERIFICATION_EXPIRED", errx.TypeAuthorization, http.StatusForbidden, "Verification is no longer fresh, verify a new code")
	CodeInvalidPurpose       = ErrRegistry.Register("INVALID_PURPOSE", errx.TypeValidation, http.StatusBadRequest, "Unknown code purpose")
	CodePurposeReserved      = ErrRegistry.Register("PURPOSE_RESERVED", errx.TypeAuthorization, http.StatusForbidden, "Codes for this purpose are issued by their own flow")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrExpired() *errx.Error {
	return ErrRegistry.New(CodeExpired)
}

func ErrAttemptsExhausted() *errx.Error {
	return ErrRegistry.New(CodeAttemptsExhausted)
}

func ErrInvalidCode() *errx.Error {
	return ErrRegistry.New(CodeInvalidCode)
}

func ErrAlreadyVerified() *errx.Error {
	return ErrRegistry.New(CodeAlreadyVerified)
}

func ErrThrottled() *errx.Error {
	return ErrRegistry.New(CodeThrottled)
}

func ErrDeliveryFailed() *errx.Error {
	return ErrRegistry.New(CodeDeliveryFailed)
}

func ErrVerificationRequired() *errx.Error {
	return ErrRegistry.New(CodeVerificationRequired)
}

func ErrVerificationExpired() *errx.Error {
	return ErrRegistry.New(CodeVerificationExpired)
}

func ErrInvalidPurpose() *errx.Error {
	return ErrRegistry.New(CodeInvalidPurpose)
}

func ErrPurposeReserved() *errx.Error {
	return ErrRegistry.New(CodePurposeReserved)
}
