package middleware

import (
	"net/http"
	"strings"

	"github.com/marcusskogh92-prog/Digitalkontroll-sub005/pkg/directory"
)

// DirectoryToken forwards the caller's bearer token to directory service calls
// made while serving the request. Requests without one fall back to the
// service credential. The token is not validated here.
func DirectoryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			r = r.WithContext(directory.WithToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
