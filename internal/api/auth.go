package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// bearerAuth rejects any request whose Authorization header does not carry
// the configured token. Requests failing here never reach a handler.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		if !tokenMatches(strings.TrimSpace(raw), s.config.Token) {
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenMatches compares in constant time. An empty configured token matches
// nothing rather than everything.
func tokenMatches(got, want string) bool {
	if got == "" || want == "" || len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
