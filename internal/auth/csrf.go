package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"medvoll-identity/internal/policy"
)

const csrfTokenBytes = 32

// CSRF implements double-submit protection. The cookie holds the token and
// an HMAC over it; unsafe requests must echo the token in the configured
// header.
type CSRF struct {
	rule   policy.CSRFRule
	secure bool
	secret []byte
}

func NewCSRF(rule policy.CSRFRule, secure bool, secret string) *CSRF {
	return &CSRF{rule: rule, secure: secure, secret: []byte(secret)}
}

func (c *CSRF) HeaderName() string {
	return c.rule.HeaderName
}

// Issue sets a fresh token cookie and returns the token for the client to
// send back in the header.
func (c *CSRF) Issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     c.rule.CookieName,
		Value:    token + "." + c.sign(token),
		Path:     "/",
		HttpOnly: c.rule.HTTPOnly,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

func (c *CSRF) Verify(r *http.Request) error {
	cookie, err := r.Cookie(c.rule.CookieName)
	if err != nil {
		return ErrCSRF
	}
	token, mac, ok := strings.Cut(cookie.Value, ".")
	if !ok || token == "" || !hmac.Equal([]byte(mac), []byte(c.sign(token))) {
		return ErrCSRF
	}

	header := strings.TrimSpace(r.Header.Get(c.rule.HeaderName))
	if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(token)) != 1 {
		return ErrCSRF
	}
	return nil
}

// Middleware rejects unsafe requests that fail Verify.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		if err := c.Verify(r); err != nil {
			writeError(w, http.StatusBadRequest, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CSRF) sign(token string) string {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}
