package component

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strongdm/snagbridge/pkg/snag"
	"github.com/strongdm/snagbridge/pkg/snag/logbuffer"
)

type requestUserKey struct{}

type loggerKey struct{}

// contextSession reads the user that withHeaderUser put in the request context.
type contextSession struct{}

func (contextSession) HasUser(ctx context.Context) bool {
	_, ok := ctx.Value(requestUserKey{}).(string)
	return ok
}

func (contextSession) CurrentUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestUserKey{}).(string)
	return id, ok
}

func withHeaderUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User-ID"); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), requestUserKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

func TestMiddleware_ReportsPanicWithRouteAndUser(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(logs), WithSession(&fakeSession{id: "u-9"}))

	router := mux.NewRouter()
	router.Use(c.Middleware)
	router.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		rc, _ := snag.ReportContextFromContext(r.Context())
		assert.Equal(t, "GET /users/{id}", rc)
		panic("nil map write")
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/17", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.True(t, r.Unhandled)
	assert.Equal(t, "nil map write", r.Message)
	assert.Equal(t, "GET /users/{id}", r.Context)
	require.NotNil(t, r.User)
	assert.Equal(t, "u-9", r.User.ID)
	assert.Equal(t, []bool{false, true}, logs.finals, "enrichment flush, then end-of-request flush")
}

func TestMiddleware_HandledRequestFlushesLogs(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(logs))

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := snag.ReportContextFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "POST /jobs", rc)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []bool{true}, logs.finals)
	assert.Empty(t, flushed(t, c, sink))
}

func TestMiddleware_AbortHandlerPropagates(t *testing.T) {
	c, sink := newTestComponent(t, testConfig())

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stream", nil))
	})
	assert.Empty(t, flushed(t, c, sink))
}

func TestMiddleware_AnonymousRequestAfterAuthenticatedHasNoUser(t *testing.T) {
	c, sink := newTestComponent(t, testConfig(), WithSession(contextSession{}))

	router := mux.NewRouter()
	router.Use(withHeaderUser, c.Middleware)
	router.HandleFunc("/pages/{page}", func(w http.ResponseWriter, r *http.Request) {
		c.NotifyWarning(r.Context(), "render", "slow render")
	})

	signedIn := httptest.NewRequest(http.MethodGet, "/pages/a", nil)
	signedIn.Header.Set("X-User-ID", "alice")
	router.ServeHTTP(httptest.NewRecorder(), signedIn)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pages/b", nil))

	reports := flushed(t, c, sink)
	require.Len(t, reports, 2)
	require.NotNil(t, reports[0].User)
	assert.Equal(t, "alice", reports[0].User.ID)
	assert.Nil(t, reports[1].User, "anonymous request must not inherit the previous user")
	assert.Nil(t, c.Client().User(), "request users stay out of the ambient user")
}

func TestMiddleware_AnonymousRequestIgnoresAmbientUser(t *testing.T) {
	c, sink := newTestComponent(t, testConfig(), WithSession(contextSession{}))
	c.Client().SetUser(&snag.User{ID: "batch-job"})

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.NotifyError(r.Context(), "render", "template missing")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	assert.Nil(t, reports[0].User)
}

func TestWithRequestLogs_ConcurrentUnitsDoNotShareLines(t *testing.T) {
	shared := logbuffer.New()
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(shared))

	orders := logbuffer.New()
	invoices := logbuffer.New()
	ordersCtx := c.WithRequestLogs(context.Background(), orders)
	invoicesCtx := c.WithRequestLogs(context.Background(), invoices)

	zap.New(orders.Core()).Info("loading order 7")
	zap.New(invoices.Core()).Info("loading invoice 9")

	c.NotifyError(invoicesCtx, "invoices", "render failed")

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	logs, ok := reports[0].Metadata[snag.LogsMetadataKey].([]string)
	require.True(t, ok)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "loading invoice 9")

	assert.Equal(t, 1, orders.Pending(), "other unit of work is untouched")
	assert.Empty(t, shared.Lines())

	c.NotifyError(ordersCtx, "orders", "lookup failed")
	reports = flushed(t, c, sink)
	require.Len(t, reports, 2)
	logs, ok = reports[1].Metadata[snag.LogsMetadataKey].([]string)
	require.True(t, ok)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "loading order 7")
}

func TestMiddleware_FlushesAndExportsRequestLogs(t *testing.T) {
	shared := logbuffer.New()
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(shared))

	perRequest := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := logbuffer.New()
			ctx := c.WithRequestLogs(r.Context(), buf)
			ctx = context.WithValue(ctx, loggerKey{}, zap.New(buf.Core()).Named("orders"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	router := mux.NewRouter()
	router.Use(perRequest, c.Middleware)
	router.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger := r.Context().Value(loggerKey{}).(*zap.Logger)
		logger.Error("order lookup failed")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/0", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1, "end-of-request flush exports the request buffer")
	assert.Equal(t, "orders", reports[0].Category)
	assert.Equal(t, "GET /orders/{id}", reports[0].Context)
	assert.Empty(t, shared.Lines())
}
