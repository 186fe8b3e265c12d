package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedObservation struct {
	method string
	route  string
	status int
}

type captureObserver struct {
	seen []recordedObservation
}

func (c *captureObserver) Observe(method, route string, status int, _ time.Duration) {
	c.seen = append(c.seen, recordedObservation{method: method, route: route, status: status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	observer := &captureObserver{}
	r := chi.NewRouter()
	r.Use(Metrics(observer))
	r.Get("/api/v1/stores/{storeId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stores/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Len(t, observer.seen, 2)
	assert.Equal(t, recordedObservation{method: http.MethodGet, route: "/api/v1/stores/{storeId}", status: http.StatusNoContent}, observer.seen[0])
	assert.Equal(t, http.StatusNotFound, observer.seen[1].status)
}

func TestLoggingRecordsImplicitOK(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, err := rec.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Status())
}
