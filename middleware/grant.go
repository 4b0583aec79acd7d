package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/goRecover/grant"
)

type grantContextKey struct{}

// GrantFromContext returns the claims stored by Grant.
func GrantFromContext(ctx context.Context) (*grant.Claims, bool) {
	c, ok := ctx.Value(grantContextKey{}).(*grant.Claims)
	return c, ok
}

// Grant parses an "Authorization: Bearer <grant>" header with signer and
// stores the claims in the request context. Requests without the header pass
// through untouched; a header that does not parse is answered with 403.
func Grant(signer *grant.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(header)
			if !ok || signer == nil {
				http.Error(w, "invalid grant", http.StatusForbidden)
				return
			}
			claims, err := signer.Parse(token)
			if err != nil {
				http.Error(w, "invalid grant", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), grantContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
