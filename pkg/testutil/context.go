package testutil

import (
	"net/http"
	"time"

	"fundpool/pkg/requestcontext"
)

// WithPrincipal sets the caller address the way the principal middleware
// would for a request carrying X-Principal.
func WithPrincipal(req *http.Request, principal string) *http.Request {
	if principal == "" {
		return req
	}
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), principal))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
