// Package policy holds the account and session security policy consulted by
// the bootstrap provisioners and the authentication pipeline.
//
// A SecurityPolicy is a plain value. It is built once at startup (Default
// plus environment overrides in the composition root) and handed to the
// components that need it; nothing in this package keeps process-wide state.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type SecurityPolicy struct {
	Password PasswordRule
	Lockout  LockoutRule
	SignIn   SignInRule
	Session  SessionRule
	Cookie   CookieRule
	CSRF     CSRFRule
	Paths    Paths
}

type SignInRule struct {
	RequireConfirmedEmail bool
}

// SessionRule governs the lifetime of the authentication session. With
// Sliding set every authenticated request pushes the expiry to now+IdleTimeout.
type SessionRule struct {
	IdleTimeout time.Duration
	Sliding     bool
}

type CookieRule struct {
	Name     string
	Path     string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

type CSRFRule struct {
	HeaderName string
	CookieName string
	HTTPOnly   bool
}

type Paths struct {
	Login        string
	Logout       string
	AccessDenied string
}

func Default() SecurityPolicy {
	return SecurityPolicy{
		Password: PasswordRule{
			MinLength:              8,
			RequireDigit:           true,
			RequireLowercase:       true,
			RequireUppercase:       true,
			RequireNonAlphanumeric: true,
		},
		Lockout: LockoutRule{
			MaxFailedAttempts:  2,
			Duration:           2 * time.Minute,
			AllowedForNewUsers: true,
		},
		SignIn: SignInRule{RequireConfirmedEmail: true},
		Session: SessionRule{
			IdleTimeout: 2 * time.Minute,
			Sliding:     true,
		},
		Cookie: CookieRule{
			Name:     "VollMed.Auth",
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		},
		CSRF: CSRFRule{
			HeaderName: "X-CSRF-TOKEN",
			CookieName: "VollMed.AntiForgery",
			HTTPOnly:   true,
		},
		Paths: Paths{
			Login:        "/Identity/Account/Login",
			Logout:       "/Identity/Account/Logout",
			AccessDenied: "/Identity/Account/AccessDenied",
		},
	}
}

// Validate reports every setting that would make the policy unenforceable.
func (p SecurityPolicy) Validate() error {
	var problems []error

	if p.Password.MinLength < 1 {
		problems = append(problems, errors.New("password minimum length must be positive"))
	}
	if p.Lockout.MaxFailedAttempts < 1 {
		problems = append(problems, errors.New("lockout max failed attempts must be positive"))
	}
	if p.Lockout.Duration <= 0 {
		problems = append(problems, errors.New("lockout duration must be positive"))
	}
	if p.Session.IdleTimeout <= 0 {
		problems = append(problems, errors.New("session idle timeout must be positive"))
	}
	if strings.TrimSpace(p.Cookie.Name) == "" {
		problems = append(problems, errors.New("session cookie name is required"))
	}
	if strings.TrimSpace(p.CSRF.HeaderName) == "" || strings.TrimSpace(p.CSRF.CookieName) == "" {
		problems = append(problems, errors.New("csrf header and cookie names are required"))
	}
	for name, path := range map[string]string{"login": p.Paths.Login, "logout": p.Paths.Logout, "access denied": p.Paths.AccessDenied} {
		if !strings.HasPrefix(path, "/") {
			problems = append(problems, fmt.Errorf("%s path must start with /", name))
		}
	}

	return errors.Join(problems...)
}
