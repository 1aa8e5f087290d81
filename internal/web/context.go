package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/healthingest/internal/core"
)

// WithRequestMetadata adds the submitter's IP and User-Agent to ctx so
// reports record who sent the file.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithSubmitter(ctx, core.Submitter{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
}

// clientIP returns the host part of RemoteAddr, already rewritten by
// TrustedRealIP for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
