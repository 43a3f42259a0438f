// Package auth mints and verifies the short-lived JWTs used by the admin
// HTTP surface: temporary admin tokens and per-user replay session tokens.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AdminTokenTTL bounds temporary admin tokens minted from the static one.
	AdminTokenTTL = time.Hour
	// ReplaySessionTTL bounds replay download sessions.
	ReplaySessionTTL = 15 * time.Minute

	scopeAdmin  = "admin"
	scopeReplay = "replay"
)

var (
	// ErrInvalidToken covers expiry, bad signature and malformed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrWrongScope marks a structurally valid token used on the wrong surface.
	ErrWrongScope = errors.New("auth: wrong token scope")
)

type claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with a single HMAC secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer builds an issuer from the shared secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), now: time.Now}
}

// IssueAdmin mints a temporary admin token.
func (i *Issuer) IssueAdmin() (string, error) {
	return i.sign(scopeAdmin, "")
}

// IssueReplay mints a replay session token bound to one user.
func (i *Issuer) IssueReplay(userID int32) (string, error) {
	return i.sign(scopeReplay, strconv.FormatInt(int64(userID), 10))
}

func (i *Issuer) sign(scope, subject string) (string, error) {
	now := i.now()
	ttl := AdminTokenTTL
	if scope == scopeReplay {
		ttl = ReplaySessionTTL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", scope, err)
	}
	return signed, nil
}

// VerifyAdmin checks a temporary admin token.
func (i *Issuer) VerifyAdmin(token string) error {
	_, err := i.verify(token, scopeAdmin)
	return err
}

// VerifyReplay checks a replay session token and returns the user it is
// bound to.
func (i *Issuer) VerifyReplay(token string) (int32, error) {
	c, err := i.verify(token, scopeReplay)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(c.Subject, 10, 32)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return int32(id), nil
}

func (i *Issuer) verify(raw, wantScope string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Scope != wantScope {
		return nil, ErrWrongScope
	}
	return c, nil
}
