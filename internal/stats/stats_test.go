package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// expvar registration is process-global, so a single updater is shared
// across the subtests.
func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	su.RegisterMetric("TestCounter")

	t.Run("incr and decr", func(t *testing.T) {
		su.Incr("TestCounter")
		su.Incr("TestCounter")
		su.Decr("TestCounter")

		assert.Eventually(t, func() bool {
			return su.vars.Get("TestCounter").String() == "1"
		}, time.Second, 10*time.Millisecond, "expected counter to settle at 1")
	})

	t.Run("expvar handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "expected OK from stats endpoint")

		var data map[string]any
		assert.NoError(t, json.NewDecoder(rec.Body).Decode(&data), "expected valid JSON body")
		assert.Contains(t, data, "TestCounter", "expected registered metric in output")
		assert.Contains(t, data, "Uptime", "expected uptime metric in output")
	})
}
