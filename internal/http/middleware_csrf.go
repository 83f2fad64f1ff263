package httpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"csvtosql/internal/session"
)

const multipartMemory = 8 << 20

// CSRFMiddleware compares the X-CSRF-Token header, or the csrf_token form
// field, with the token in the session. It must run after the session
// middleware.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresCSRF(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := session.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusForbidden, "csrf_invalid", "no session")
			return
		}
		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			if err := parseForm(r); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "upload exceeds the size limit")
					return
				}
				writeError(w, http.StatusBadRequest, "invalid_form", "could not read form")
				return
			}
			token = r.PostFormValue("csrf_token")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
			writeError(w, http.StatusForbidden, "csrf_invalid", "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

func requiresCSRF(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
