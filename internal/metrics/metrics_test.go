package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestImportCounters(t *testing.T) {
	m := New()

	m.ImportSucceeded("Lunaris", 40, 2)
	m.ImportSucceeded("Lunaris", 10, 0)
	m.ImportFailed("Lunaris")

	body := scrape(t, m)
	assert.Contains(t, body, `family_history_imports_total{family="Lunaris",status="ok"} 2`)
	assert.Contains(t, body, `family_history_imports_total{family="Lunaris",status="error"} 1`)
	assert.Contains(t, body, `family_history_imported_points_total{family="Lunaris"} 50`)
	assert.Contains(t, body, `family_history_import_skipped_entries_total{family="Lunaris"} 2`)
}

func TestCacheAndEventCounters(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.EventBroadcast("snapshot_imported")
	m.HistoryComputed("Lunaris", 12)

	body := scrape(t, m)
	assert.Contains(t, body, `family_history_latest_cache_lookups_total{result="hit"} 2`)
	assert.Contains(t, body, `family_history_latest_cache_lookups_total{result="miss"} 1`)
	assert.Contains(t, body, `family_history_broadcast_events_total{type="snapshot_imported"} 1`)
	assert.Contains(t, body, `family_history_history_table_players_count{family="Lunaris"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/family/{family}/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/family/Lunaris/latest", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, scrape(t, m), `method="GET",route="/family/{family}/latest",status="418"`)
}
