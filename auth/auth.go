// Package auth guards the admin pages with a cookie session bound to the
// settings fingerprint, and checks the shared token on the QR route.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/jaliph/qrbridge/utils"
)

const (
	// SessionName is the cookie name of the admin session
	SessionName = "qrbridge"

	keyAuthenticated = "authenticated"
	keyConfigVersion = "config_version"

	loginPath = "/login"
)

// FingerprintFunc returns the current settings fingerprint
type FingerprintFunc func() string

// Gate manages admin sessions
type Gate struct {
	store       sessions.Store
	fingerprint FingerprintFunc
	logger      *slog.Logger
}

// NewCookieStore creates a cookie store with fresh random keys, so sessions
// never survive a restart.
func NewCookieStore() *sessions.CookieStore {
	store := sessions.NewCookieStore(
		securecookie.GenerateRandomKey(32),
		securecookie.GenerateRandomKey(32),
	)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// NewGate creates a gate backed by store
func NewGate(store sessions.Store, fingerprint FingerprintFunc, logger *slog.Logger) *Gate {
	return &Gate{store: store, fingerprint: fingerprint, logger: utils.Or(logger)}
}

// TokenMatches compares tokens in constant time. An empty want never matches.
func TokenMatches(given, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

// Login starts a session when token matches want
func (g *Gate) Login(w http.ResponseWriter, r *http.Request, token, want string) bool {
	if !TokenMatches(token, want) {
		g.logger.Warn("Rejected login", "remote", r.RemoteAddr)
		return false
	}
	session, err := g.store.Get(r, SessionName)
	if err != nil {
		// a cookie signed by a previous process; start over
		session, err = g.store.New(r, SessionName)
		if session == nil {
			g.logger.Error("Failed to create session", "error", err)
			return false
		}
	}
	session.Values[keyAuthenticated] = true
	session.Values[keyConfigVersion] = g.fingerprint()
	if err := session.Save(r, w); err != nil {
		g.logger.Error("Failed to save session", "error", err)
		return false
	}
	g.logger.Info("Admin logged in", "remote", r.RemoteAddr)
	return true
}

// Logout ends the session
func (g *Gate) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := g.store.Get(r, SessionName)
	if session == nil {
		return
	}
	expire(session)
	if err := session.Save(r, w); err != nil {
		g.logger.Error("Failed to clear session", "error", err)
	}
}

// Refresh rebinds the current session to the current fingerprint
func (g *Gate) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := g.store.Get(r, SessionName)
	if err != nil || session == nil {
		return
	}
	if ok, _ := session.Values[keyAuthenticated].(bool); !ok {
		return
	}
	session.Values[keyConfigVersion] = g.fingerprint()
	if err := session.Save(r, w); err != nil {
		g.logger.Error("Failed to refresh session", "error", err)
	}
}

// Authenticated reports whether r carries a session for the current fingerprint
func (g *Gate) Authenticated(r *http.Request) bool {
	session, err := g.store.Get(r, SessionName)
	if err != nil || session == nil {
		return false
	}
	ok, _ := session.Values[keyAuthenticated].(bool)
	version, _ := session.Values[keyConfigVersion].(string)
	return ok && version == g.fingerprint()
}

// Require redirects to the login page unless the session is valid. A session
// from before a token rotation is cleared.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		if session, err := g.store.Get(r, SessionName); err == nil && session != nil && !session.IsNew {
			expire(session)
			session.Save(r, w)
		}
		http.Redirect(w, r, loginPath, http.StatusFound)
	})
}

func expire(s *sessions.Session) {
	s.Values = make(map[interface{}]interface{})
	s.Options = &sessions.Options{Path: "/", MaxAge: -1}
}
