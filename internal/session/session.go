// Package session keeps the browser session (CSRF token and one pending
// flash message) in a signed, encrypted cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	CookieName     = "csvsql_session"
	CSRFCookieName = "csvsql_csrf"
)

type Session struct {
	CSRFToken string
	Flash     *Flash
}

type Flash struct {
	Kind    string
	Message string
}

type Manager struct {
	cookie *securecookie.SecureCookie
	secure bool
}

// NewManager signs with secretKey and encrypts with its first 32 bytes.
func NewManager(secretKey []byte, secure bool) (*Manager, error) {
	if len(secretKey) < 32 {
		return nil, errors.New("session key must be at least 32 bytes")
	}
	sc := securecookie.New(secretKey, secretKey[:32])
	sc.MaxAge(int((24 * time.Hour * 7).Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Manager{cookie: sc, secure: secure}, nil
}

func (m *Manager) Get(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := m.cookie.Decode(CookieName, cookie.Value, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) Save(w http.ResponseWriter, s *Session) error {
	encoded, err := m.cookie.Encode(CookieName, s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    s.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

type ctxKey struct{}

// Middleware attaches the request's session to its context, starting a new
// one with a fresh CSRF token when the cookie is missing or invalid.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Get(r)
		if err != nil || s.CSRFToken == "" {
			token, err := RandomToken(32)
			if err != nil {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			s = &Session{CSRFToken: token}
			if err := m.Save(w, s); err != nil {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, s)))
	})
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// SetFlash stores a message for the next rendered page. It must be called
// before the response body is written.
func (m *Manager) SetFlash(w http.ResponseWriter, r *http.Request, kind, message string) error {
	s, ok := FromContext(r.Context())
	if !ok {
		return errors.New("no session in context")
	}
	s.Flash = &Flash{Kind: kind, Message: message}
	return m.Save(w, s)
}

// PopFlash returns the pending flash, if any, and clears it.
func (m *Manager) PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	s, ok := FromContext(r.Context())
	if !ok || s.Flash == nil {
		return nil
	}
	flash := s.Flash
	s.Flash = nil
	if err := m.Save(w, s); err != nil {
		return flash
	}
	return flash
}

func RandomToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid token length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
