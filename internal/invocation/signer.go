package invocation

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims adapts Claims to jwt.Claims so it can ride inside a standard
// JWT, a signed envelope carrying issuer, subject, target, origin, and a
// payload hash.
type jwtClaims struct {
	Claims
}

func (c jwtClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c jwtClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c jwtClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c jwtClaims) GetIssuer() (string, error)                  { return c.Issuer, nil }
func (c jwtClaims) GetSubject() (string, error)                 { return c.Sub, nil }
func (c jwtClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// HMACSigner is the default Signer: HS256-signed JWTs over a shared
// secret. Key provisioning (where the secret comes from) is out of
// scope — this type only implements the Sign/Verify contract once a
// secret is supplied.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a Signer from a shared secret.
func NewHMACSigner(secret []byte) *HMACSigner {
	return &HMACSigner{secret: secret}
}

// Sign implements Signer.
func (s *HMACSigner) Sign(c Claims) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSignerMissing
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{c})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("invocation: sign HS256: %w", err)
	}
	return signed, nil
}

// Verify implements Signer.
func (s *HMACSigner) Verify(token string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrSignerMissing
	}
	parsed, err := jwt.ParseWithClaims(token, &rawClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invocation: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("invocation: parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*rawClaims)
	if !ok || !parsed.Valid {
		return Claims{}, fmt.Errorf("invocation: invalid token claims")
	}
	return claims.Claims, nil
}

// rawClaims is the concrete type jwt.ParseWithClaims populates; it embeds
// Claims plus the registered-claim accessors jwt.Claims requires.
type rawClaims struct {
	Claims
}

func (c *rawClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c *rawClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c *rawClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *rawClaims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *rawClaims) GetSubject() (string, error)                  { return c.Sub, nil }
func (c *rawClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }
