package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabels_UnmatchedAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/queries/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.DELETE("/queries/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseGet := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/queries/:id", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404"))
	baseDel := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/queries/:id", "204"))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/queries/abc", http.StatusOK},
		{http.MethodGet, "/queries/def", http.StatusOK},
		{http.MethodGet, "/nope/123", http.StatusNotFound},
		{http.MethodDelete, "/queries/abc", http.StatusNoContent},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/queries/:id", "200")); got != baseGet+2 {
		t.Fatalf("route counter = %v; want %v", got, baseGet+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404")); got != base404+1 {
		t.Fatalf("unmatched counter = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/queries/:id", "204")); got != baseDel+1 {
		t.Fatalf("delete counter = %v; want %v", got, baseDel+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
