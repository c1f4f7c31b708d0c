package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "splithappens"

var ErrInvalidCookie = errors.New("invalid or expired session cookie")

// Claims is the payload of the browser session cookie.
type Claims struct {
	WorkspaceID string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieCodec signs and verifies session cookies with HS256.
type CookieCodec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewCookieCodec(secret string, maxAge time.Duration) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), maxAge: maxAge, now: time.Now}
}

func (c *CookieCodec) Encode(workspaceID string) (string, error) {
	now := c.now()
	claims := &Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode returns the workspace id carried by a cookie value.
func (c *CookieCodec) Decode(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.WorkspaceID == "" {
		return "", ErrInvalidCookie
	}
	return claims.WorkspaceID, nil
}
