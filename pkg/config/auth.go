package config

import (
	"fmt"
	"time"
)

type AuthConfig struct {
	JWT      JWTConfig
	Password PasswordConfig
	// Bootstrap admin, created at startup when both are set.
	AdminEmail    string
	AdminPassword string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        []string
}

type PasswordConfig struct {
	BcryptCost int
	MinLength  int
}

// OTPConfig drives the shared one-time-code core.
type OTPConfig struct {
	CodeLength     int
	ExpirationTime time.Duration
	MaxAttempts    int
	ResendThrottle time.Duration
	// FreshnessWindow bounds how long a verified code authorizes sensitive operations.
	FreshnessWindow time.Duration
	// SingleUse makes a passing authorization check consume the verified code.
	SingleUse     bool
	Store         string
	SweepInterval time.Duration
}

func (c OTPConfig) Validate() error {
	if c.CodeLength < 4 || c.CodeLength > 10 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.ExpirationTime <= 0 || c.FreshnessWindow <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("OTP durations must be positive")
	}
	if c.ResendThrottle < 0 {
		return fmt.Errorf("OTP_RESEND_THROTTLE must not be negative")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	switch c.Store {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown OTP_STORE %q (use postgres, redis or memory)", c.Store)
	}
	return nil
}

// WithdrawalConfig drives the PIN embedded in each withdrawal.
type WithdrawalConfig struct {
	PINLength      int
	PINExpiry      time.Duration
	PINMaxAttempts int
	Store          string
	Currencies     []string
}

func (c WithdrawalConfig) Validate() error {
	if c.PINLength < 4 || c.PINLength > 10 {
		return fmt.Errorf("PIN_LENGTH must be between 4 and 10")
	}
	if c.PINExpiry <= 0 {
		return fmt.Errorf("PIN_EXPIRY_HOURS must be positive")
	}
	if c.PINMaxAttempts <= 0 {
		return fmt.Errorf("PIN_MAX_ATTEMPTS must be positive")
	}
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown WITHDRAWAL_STORE %q (use postgres or memory)", c.Store)
	}
	return nil
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET_KEY", ""),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
			Issuer:          getEnv("JWT_ISSUER", "bluerock"),
			Audience:        getEnvStringSlice("JWT_AUDIENCE", []string{"bluerock-api"}),
		},
		Password: PasswordConfig{
			BcryptCost: getEnvInt("BCRYPT_COST", 10),
			MinLength:  getEnvInt("PASSWORD_MIN_LENGTH", 8),
		},
		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}
}

func loadOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:      getEnvInt("OTP_CODE_LENGTH", 6),
		ExpirationTime:  getEnvDuration("OTP_EXPIRATION_TIME", 10*time.Minute),
		MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 5),
		ResendThrottle:  getEnvDuration("OTP_RESEND_THROTTLE", 60*time.Second),
		FreshnessWindow: getEnvDuration("OTP_VERIFICATION_FRESHNESS", 30*time.Minute),
		SingleUse:       getEnvBool("OTP_FRESHNESS_SINGLE_USE", false),
		Store:           getEnv("OTP_STORE", "postgres"),
		SweepInterval:   getEnvDuration("OTP_SWEEP_INTERVAL", 5*time.Minute),
	}
}

func loadWithdrawalConfig() WithdrawalConfig {
	return WithdrawalConfig{
		PINLength:      getEnvInt("PIN_LENGTH", 6),
		PINExpiry:      getEnvHours("PIN_EXPIRY_HOURS", 48*time.Hour),
		PINMaxAttempts: getEnvInt("PIN_MAX_ATTEMPTS", 5),
		Store:          getEnv("WITHDRAWAL_STORE", "postgres"),
		Currencies:     getEnvStringSlice("WITHDRAWAL_CURRENCIES", []string{"USD", "EUR", "GBP", "BTC", "USDT"}),
	}
}
