package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "seek.com", SanitizeSite("https://seek.com/job/1"))
	require.Equal(t, "example.com", SanitizeSite("example.com/path"))
	require.Equal(t, "unknown", SanitizeSite("://bad"))
}

func TestMiddlewareRecordsWithoutPanicking(t *testing.T) {
	t.Parallel()
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/jobs/{fingerprint}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Direct observers must accept arbitrary labels.
	ObserveAdmission("queued")
	ObserveScrape("https://seek.com/job/1", "scraped", 2*time.Second)
	IncActiveWorkers()
	DecActiveWorkers()
}
