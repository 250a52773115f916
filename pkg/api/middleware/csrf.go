package middleware

import (
	"crypto/hmac"
	"net/http"

	"github.com/claudeck/claudeck/pkg/api/handlers"
)

// CSRFHeaderName is the header the client must echo the cookie into.
const CSRFHeaderName = "X-CSRF-Token"

// CSRF enforces the double-submit check on state-changing routes that
// authenticate via the renewal cookie instead of a bearer header. The
// browser cannot set custom headers cross-site, so a matching header
// proves a same-origin caller.
func CSRF() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(handlers.CSRFCookieName)
			if err != nil || cookie.Value == "" {
				handlers.Forbidden(w, "CSRF cookie missing")
				return
			}

			header := r.Header.Get(CSRFHeaderName)
			if header == "" || !hmac.Equal([]byte(header), []byte(cookie.Value)) {
				handlers.Forbidden(w, "CSRF token mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
