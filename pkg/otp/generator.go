package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	DefaultCodeLength = 6
	MinCodeLength     = 4
	MaxCodeLength     = 10
)

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

// Generator produces numeric codes from crypto/rand.
type Generator struct {
	now Clock
}

func NewGenerator(now Clock) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Generated is the output of one generation. Plaintext is handed to the notifier only.
type Generated struct {
	Plaintext string
	Hash      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Generate draws a code of exactly length digits, uniformly from
// [10^(length-1), 10^length-1], and stamps it with an expiry ttl from now.
func (g *Generator) Generate(length int, ttl time.Duration) (Generated, error) {
	code, err := GenerateCode(length)
	if err != nil {
		return Generated{}, err
	}
	now := g.now()
	return Generated{
		Plaintext: code,
		Hash:      HashCode(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// GenerateCode returns a uniformly distributed decimal string of exactly length digits.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("otp: code length %d out of range [%d, %d]", length, MinCodeLength, MaxCodeLength)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	high := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	span := new(big.Int).Sub(high, low)

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("otp: read random: %w", err)
	}
	return n.Add(n, low).String(), nil
}

// HashCode returns the hex encoded SHA-256 of code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeMatches compares the hash of submitted with storedHash in constant time.
func CodeMatches(submitted, storedHash string) bool {
	if submitted == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashCode(submitted)), []byte(storedHash)) == 1
}
