// Package auth signs and verifies session tokens and the anti-forgery post key.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer          = "points-lottery"
	audienceSession = "session"
	audiencePostKey = "postkey"
)

var (
	// ErrInvalidToken is returned for a missing, expired or forged session token.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrInvalidPostKey is returned when a post key is expired, forged or issued to another user.
	ErrInvalidPostKey = errors.New("invalid post key")
)

// Claims identify a user. Subject carries the uid.
type Claims struct {
	Username string `json:"username,omitempty"`

	jwt.RegisteredClaims
}

// UID parses the subject.
func (c Claims) UID() (int64, error) {
	uid, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}
	return uid, nil
}

// JWT signs HS256 tokens with a shared secret.
type JWT struct {
	Secret     []byte
	TokenTTL   time.Duration
	PostKeyTTL time.Duration
}

// New creates a signer. The secret must not be empty.
func New(secret string, tokenTTL, postKeyTTL time.Duration) (JWT, error) {
	if secret == "" {
		return JWT{}, errors.New("auth secret is empty")
	}
	return JWT{Secret: []byte(secret), TokenTTL: tokenTTL, PostKeyTTL: postKeyTTL}, nil
}

func (j JWT) sign(claims Claims, audience string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims.Issuer = issuer
	claims.Audience = jwt.ClaimStrings{audience}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now.Add(-5 * time.Second))
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

func (j JWT) verify(token, audience string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	}, jwt.WithAudience(audience), jwt.WithIssuer(issuer))
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return *c, nil
}

// SignSession issues a session token for uid.
func (j JWT) SignSession(uid int64, username string) (token string, expiresAt time.Time, err error) {
	claims := Claims{Username: username}
	claims.Subject = strconv.FormatInt(uid, 10)
	return j.sign(claims, audienceSession, j.TokenTTL)
}

// VerifySession checks a session token and returns its claims.
func (j JWT) VerifySession(token string) (Claims, error) {
	c, err := j.verify(token, audienceSession)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := c.UID(); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// PostKey issues a short-lived form key bound to uid.
func (j JWT) PostKey(uid int64) (string, error) {
	var claims Claims
	claims.Subject = strconv.FormatInt(uid, 10)
	s, _, err := j.sign(claims, audiencePostKey, j.PostKeyTTL)
	return s, err
}

// CheckPostKey verifies that key was issued to uid and has not expired.
func (j JWT) CheckPostKey(key string, uid int64) error {
	if key == "" {
		return ErrInvalidPostKey
	}
	c, err := j.verify(key, audiencePostKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPostKey, err)
	}
	if got, err := c.UID(); err != nil || got != uid {
		return ErrInvalidPostKey
	}
	return nil
}
