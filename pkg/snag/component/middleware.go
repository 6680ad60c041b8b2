package component

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// Middleware sets the report context to the request method and route, looks
// up the current user, reports panics as unhandled errors with a 500 response
// and flushes the log buffer when the request ends.
//
// The user is kept in the request context only; the client's ambient user is
// left alone, and requests without identity report no user. Log lines go to
// the buffer set with WithRequestLogs when an outer middleware provides one.
//
// With gorilla/mux, register it through Router.Use so the route template is
// known:
//
//	router.Use(reporter.Middleware)
func (c *Component) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := snag.WithReportContext(r.Context(), requestContext(r))
		if u := c.lookupUser(ctx); u != nil {
			ctx = snag.WithUser(ctx, *u)
		} else {
			ctx = snag.WithAnonymousUser(ctx)
		}
		r = r.WithContext(ctx)

		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				c.reportUnhandled(ctx, p, 1)
				w.WriteHeader(http.StatusInternalServerError)
			}
			c.flushLogs(ctx, true)
		}()

		next.ServeHTTP(w, r)
	})
}

// requestContext returns "<METHOD> <route template>", falling back to the
// request path when no mux route matched.
func requestContext(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			path = tpl
		}
	}
	return r.Method + " " + path
}
