package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenClaims is the validated content of an access token.
type TokenClaims struct {
	AccountID kernel.AccountID
	Email     string
	Role      kernel.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is returned to clients after a successful login.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// JWTService signs and validates HS256 tokens.
type JWTService struct {
	secretKey       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	issuer          string
	audience        []string
	now             func() time.Time
}

func NewJWTServiceFromConfig(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secretKey:       []byte(cfg.SecretKey),
		accessTokenTTL:  cfg.AccessTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		now:             time.Now,
	}
}

type jwtClaims struct {
	AccountID kernel.AccountID `json:"account_id"`
	Email     string           `json:"email,omitempty"`
	Role      kernel.Role      `json:"role,omitempty"`
	TokenType string           `json:"typ"`
	jwt.RegisteredClaims
}

// IssueTokens creates an access/refresh pair for an account.
func (j *JWTService) IssueTokens(id kernel.AccountID, email string, role kernel.Role) (*TokenPair, error) {
	now := j.now()
	accessExp := now.Add(j.accessTokenTTL)

	access, err := j.sign(jwtClaims{
		AccountID:        id,
		Email:            email,
		Role:             role,
		TokenType:        tokenTypeAccess,
		RegisteredClaims: j.registered(id, now, accessExp),
	})
	if err != nil {
		return nil, err
	}

	refresh, err := j.sign(jwtClaims{
		AccountID:        id,
		TokenType:        tokenTypeRefresh,
		RegisteredClaims: j.registered(id, now, now.Add(j.refreshTokenTTL)),
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    accessExp,
	}, nil
}

func (j *JWTService) registered(id kernel.AccountID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   id.String(),
		Audience:  j.audience,
		ExpiresAt: jwt.NewNumericDate(exp),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func (j *JWTService) sign(claims jwtClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", ErrTokenGenerationFailed().WithCause(err)
	}
	return s, nil
}

// ValidateAccessToken parses an access token. Refresh tokens are rejected.
func (j *JWTService) ValidateAccessToken(tokenString string) (*TokenClaims, error) {
	c, err := j.parse(tokenString, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return &TokenClaims{
		AccountID: c.AccountID,
		Email:     c.Email,
		Role:      c.Role,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// ValidateRefreshToken returns the account a refresh token was issued to.
func (j *JWTService) ValidateRefreshToken(tokenString string) (kernel.AccountID, error) {
	c, err := j.parse(tokenString, tokenTypeRefresh)
	if err != nil {
		return "", err
	}
	return c.AccountID, nil
}

func (j *JWTService) parse(tokenString, tokenType string) (*jwtClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(j.issuer),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if len(j.audience) > 0 {
		opts = append(opts, jwt.WithAudience(j.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, ErrTokenValidationFailed().WithCause(err)
	}

	c, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenValidationFailed().WithDetail("error", "invalid claims")
	}
	if c.TokenType != tokenType || c.AccountID.IsEmpty() {
		return nil, ErrTokenValidationFailed().WithDetail("error", "wrong token type")
	}
	return c, nil
}
