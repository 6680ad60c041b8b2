// context.go provides utilities for propagating request-scoped report state
// through Go context.Context.

package snag

import "context"

// Context key types (unexported to avoid collisions)
type userKey struct{}
type reportContextKey struct{}
type exportingLogKey struct{}

// WithUser returns a context with the user attached.
// Reports built from this context use it instead of the client's ambient user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext extracts the user from context.
// Returns false if not set or if the user ID is empty.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok && u.ID != ""
}

// WithAnonymousUser marks ctx as belonging to a request without identity.
// Reports built from it carry no user, even when the client has an ambient one.
func WithAnonymousUser(ctx context.Context) context.Context {
	return context.WithValue(ctx, userKey{}, User{})
}

// HasScopedUser reports whether ctx decides the report user, either with
// WithUser or WithAnonymousUser. The ambient user is not consulted then.
func HasScopedUser(ctx context.Context) bool {
	_, ok := ctx.Value(userKey{}).(User)
	return ok
}

// WithReportContext returns a context carrying the report context string,
// typically the request route.
func WithReportContext(ctx context.Context, reportContext string) context.Context {
	return context.WithValue(ctx, reportContextKey{}, reportContext)
}

// ReportContextFromContext extracts the report context string.
// Returns empty string and false if not set.
func ReportContextFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(reportContextKey{}).(string)
	return s, ok && s != ""
}

// WithExportingLog marks ctx as being inside a log export. Enrichment must not
// flush the log buffer again while this mark is present, since the flush is
// what produced the report.
func WithExportingLog(ctx context.Context) context.Context {
	return context.WithValue(ctx, exportingLogKey{}, true)
}

// ExportingLog reports whether ctx is inside a log export.
func ExportingLog(ctx context.Context) bool {
	v, _ := ctx.Value(exportingLogKey{}).(bool)
	return v
}
