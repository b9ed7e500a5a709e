package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/observability"
)

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/ws/chat/{room_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/ws/chat/{room_id}", "403")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/ws/chat/1", "/ws/chat/2", "/ws/chat/3"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter), "room ids do not create new series")
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "200")
	before := testutil.ToFloat64(counter)

	handler := Metrics()(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_DefaultStatusCodeIsOK(t *testing.T) {
	handler := Metrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics_PanicsInNextHandler(t *testing.T) {
	handler := Metrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler panic")
	}))

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn)), nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	rw := &responseWriter{
		ResponseWriter: &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), conn: server},
		statusCode:     http.StatusOK,
	}

	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	assert.Equal(t, server, conn)
	assert.NotNil(t, buf)
	assert.Equal(t, http.StatusSwitchingProtocols, rw.statusCode)
}

func TestResponseWriter_HijackNotImplemented(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

	_, _, err := rw.Hijack()
	assert.Error(t, err)
	assert.Equal(t, http.StatusOK, rw.statusCode)
}
