package middleware

import (
	"net"
	"net/http"

	goRecover "github.com/MrEthical07/goRecover"
)

// ClientIP stores the host part of r.RemoteAddr with goRecover.WithClientIP.
// Mount chi's RealIP before it when the server sits behind a trusted proxy.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(goRecover.WithClientIP(r.Context(), ip)))
	})
}
