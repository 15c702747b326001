package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMeasure_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Measure)
	r.Get("/v1/banners/{name}/render", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, name := range []string{"A", "B"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/banners/"+name+"/render", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(RequestsTotal.WithLabelValues("/v1/banners/{name}/render", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(InFlight))
}
