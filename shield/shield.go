// Package shield provides reusable HTTP middleware for the service: security
// headers, request body limits, and HEAD method handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
package shield

import "net/http"

// DefaultStack returns the standard middleware stack, ordered
// HeadToGet → SecurityHeaders → MaxBody.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
	}
}

// HeadToGet rewrites HEAD to GET before routing. The link and activity
// endpoints are registered with r.Get() only, so without the rewrite a HEAD
// probe (load balancers hitting /health, curl -I) gets 405 instead of the
// headers of the GET response. net/http drops the body for HEAD on its own.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
