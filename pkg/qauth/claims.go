// Package qauth issues and verifies the bearer tokens a qmag server accepts.
// Tokens are HS256 JWTs signed with the server's shared secret.
package qauth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is the iss claim of tokens minted by `qmag token issue`.
const DefaultIssuer = "qmag"

var ErrInvalidToken = errors.New("invalid token")

// Claims is the flat view of a qmag token's payload.
// Values from FromToken are unverified and only fit for display.
type Claims struct {
	Subject  string
	Name     string
	Issuer   string
	Audience string
	Iat      int64
	Exp      int64
}

// ParseTokenClaims extracts raw claims from a JWT without verifying its
// signature. Numeric timestamps come back as float64.
func ParseTokenClaims(tokenStr string) (jwt.MapClaims, error) {
	var claims jwt.MapClaims
	parser := new(jwt.Parser)
	if _, _, err := parser.ParseUnverified(tokenStr, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// FromToken reads a token's claims without verification.
func FromToken(tokenStr string) (*Claims, error) {
	claims, err := ParseTokenClaims(tokenStr)
	if err != nil {
		return nil, err
	}
	return FromMapClaims(claims), nil
}

// FromMapClaims tolerates both string and numeric forms of `sub`, `iat` and
// `exp`.
func FromMapClaims(mc jwt.MapClaims) *Claims {
	c := &Claims{}

	if sub, ok := mc["sub"]; ok {
		switch v := sub.(type) {
		case string:
			c.Subject = v
		case float64:
			c.Subject = strconv.FormatInt(int64(v), 10)
		default:
			c.Subject = fmt.Sprintf("%v", v)
		}
	}
	if name, ok := mc["name"].(string); ok {
		c.Name = name
	}
	if iss, ok := mc["iss"].(string); ok {
		c.Issuer = iss
	}
	if aud, ok := mc["aud"].(string); ok {
		c.Audience = aud
	}
	c.Iat = unix(mc["iat"])
	c.Exp = unix(mc["exp"])
	return c
}

func unix(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// ToClaims converts Claims into jwt.MapClaims, omitting empty fields.
func ToClaims(c *Claims) jwt.MapClaims {
	mc := jwt.MapClaims{}
	if c.Subject != "" {
		mc["sub"] = c.Subject
	}
	if c.Name != "" {
		mc["name"] = c.Name
	}
	if c.Issuer != "" {
		mc["iss"] = c.Issuer
	}
	if c.Audience != "" {
		mc["aud"] = c.Audience
	}
	if c.Iat != 0 {
		mc["iat"] = c.Iat
	}
	if c.Exp != 0 {
		mc["exp"] = c.Exp
	}
	return mc
}

// Issue signs a token for subject valid for ttl (no expiry when ttl <= 0).
func Issue(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is empty")
	}
	now := time.Now()
	c := &Claims{Subject: subject, Issuer: DefaultIssuer, Iat: now.Unix()}
	if ttl > 0 {
		c.Exp = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, ToClaims(c)).SignedString(secret)
}

// Verify checks the token's signature and expiry and returns its claims.
func Verify(secret []byte, tokenStr string) (*Claims, error) {
	var mc jwt.MapClaims
	_, err := jwt.ParseWithClaims(tokenStr, &mc, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(DefaultIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return FromMapClaims(mc), nil
}

// IsTokenExpired reports whether token is expired or within skew of
// expiring. It does not verify the signature.
func IsTokenExpired(token string, skew time.Duration) (bool, error) {
	if token == "" {
		return true, nil
	}
	c, err := FromToken(token)
	if err != nil {
		return true, err
	}
	if c.Exp == 0 {
		return false, nil
	}
	expiresAt := time.Unix(c.Exp, 0).Add(-skew)
	return time.Now().After(expiresAt), nil
}
