package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionTokenType = "session"

// SessionTokens signs and verifies session cookie values. The token only
// names the session; the session record decides whether it is still valid.
type SessionTokens struct {
	secret []byte
	now    func() time.Time
}

func NewSessionTokens(secret string) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), now: time.Now}
}

type sessionToken struct {
	AccountID string
	SessionID string
	ExpiresAt time.Time
}

func (t *SessionTokens) Issue(accountID, sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": accountID,
		"sid": sessionID,
		"iat": t.now().UTC().Unix(),
		"exp": expiresAt.Unix(),
		"typ": sessionTokenType,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return encoded, nil
}

func (t *SessionTokens) Parse(raw string) (sessionToken, error) {
	if raw == "" {
		return sessionToken{}, ErrInvalidSession
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return sessionToken{}, errors.Join(ErrInvalidSession, err)
	}
	if tokenType, _ := claims["typ"].(string); tokenType != sessionTokenType {
		return sessionToken{}, ErrInvalidSession
	}

	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || sid == "" {
		return sessionToken{}, ErrInvalidSession
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return sessionToken{}, ErrInvalidSession
	}

	return sessionToken{AccountID: sub, SessionID: sid, ExpiresAt: exp.Time}, nil
}
