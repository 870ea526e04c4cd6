package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"medvoll-identity/internal/identity"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxEmailLength   = 256
	maxPasswordBytes = 200
)

type Handler struct {
	service *Service
	csrf    *CSRF
}

func NewHandler(service *Service, csrf *CSRF) *Handler {
	return &Handler{service: service, csrf: csrf}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type unlockRequest struct {
	Email string `json:"email"`
}

func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Issue(w)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to issue csrf token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":       token,
		"header_name": h.csrf.HeaderName(),
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || len(body.Email) > maxEmailLength || !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if body.Password == "" || len(body.Password) > maxPasswordBytes {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	grant, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		var lockedErr ErrLoginLocked
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.As(err, &lockedErr):
			writeLocked(w, lockedErr.Until.Sub(h.service.now()))
		case errors.Is(err, ErrAttemptNotRecorded):
			sentry.CaptureException(err)
			writeLocked(w, h.service.Policy().Lockout.Duration)
		case errors.Is(err, ErrNotAllowed):
			writeError(w, http.StatusForbidden, "sign-in not allowed")
		default:
			writeServerError(w, err, "failed to login")
		}
		return
	}

	h.setSessionCookie(w, grant)
	writeJSON(w, http.StatusOK, map[string]any{"expires_at": grant.ExpiresAt})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.service.Policy().Cookie.Name); err == nil {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			writeServerError(w, err, "failed to logout")
			return
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AccessDenied(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusForbidden, "access denied")
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	view, err := h.service.Describe(r.Context(), principal)
	if err != nil {
		writeServerError(w, err, "failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var body unlockRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.service.Unlock(r.Context(), body.Email); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeServerError(w, err, "failed to unlock account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RoleMembers(w http.ResponseWriter, r *http.Request) {
	emails, err := h.service.RoleMembers(r.Context(), r.PathValue("name"))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "role not found")
			return
		}
		writeServerError(w, err, "failed to list role members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": emails})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, grant Grant) {
	rule := h.service.Policy().Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     rule.Name,
		Value:    grant.Token,
		Path:     rule.Path,
		Expires:  grant.ExpiresAt,
		HttpOnly: rule.HTTPOnly,
		Secure:   rule.Secure,
		SameSite: rule.SameSite,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	rule := h.service.Policy().Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     rule.Name,
		Value:    "",
		Path:     rule.Path,
		MaxAge:   -1,
		HttpOnly: rule.HTTPOnly,
		Secure:   rule.Secure,
		SameSite: rule.SameSite,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeLocked(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
	writeError(w, http.StatusTooManyRequests, "login temporarily locked")
}

func writeServerError(w http.ResponseWriter, err error, message string) {
	sentry.CaptureException(err)
	if errors.Is(err, identity.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, message)
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
