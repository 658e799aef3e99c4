package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed, badly signed and expired access tokens.
// Callers must not be able to tell those apart.
var ErrInvalidToken = errors.New("invalid token")

const refreshTokenBytes = 40

var codeRange = big.NewInt(900000)

// AccessClaims are the claims embedded in an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Phone string `json:"phone"`
}

// Generator produces verification codes, refresh tokens and signed access
// tokens. The signing secret and TTL are fixed at construction.
type Generator struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

func NewGenerator(secret, issuer string, accessTTL time.Duration) *Generator {
	return &Generator{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
	}
}

// GenerateCode returns a uniformly random 6-digit code in [100000, 999999].
// Short-lived, but drawn from crypto/rand anyway.
func (g *Generator) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}

// GenerateRefreshToken returns a hex-encoded random string with 40 bytes of
// entropy. Predictability here is a session-hijack vector, so crypto/rand is
// mandatory.
func (g *Generator) GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueAccessToken signs an HS256 JWT embedding the user id and phone.
func (g *Generator) IssueAccessToken(userID, phone string) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.accessTTL)),
		},
		Phone: phone,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, expiry and issuer, returning the
// embedded claims. All failure modes collapse into ErrInvalidToken.
func (g *Generator) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != g.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
