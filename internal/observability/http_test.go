package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/beaconctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRouterServesHealthMetricsAndExtraRoutes(t *testing.T) {
	testlog.Start(t)
	r := NewRouter("beacond-test", zerolog.Nop(), Route{
		Path:    "/pool",
		Handler: func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"commands": 0}) },
	})

	for _, tc := range []struct {
		path string
		want string
	}{
		{"/health", `"status":"ok"`},
		{"/pool", `"commands":0`},
		{"/metrics", "beacon_http_requests_total"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s: body missing %q", tc.path, tc.want)
		}
	}
}

func TestRouterSkipsScrapeLogsAndLabelsByRoute(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := NewRouter("beacond-ops", zerolog.New(&buf), Route{
		Path:    "/pool",
		Handler: func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"commands": 0}) },
	})
	get := func(path string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	if code := get("/metrics"); code != http.StatusOK {
		t.Fatalf("/metrics: status %d", code)
	}
	get("/health")
	if buf.Len() != 0 {
		t.Fatalf("scrape routes logged: %s", buf.String())
	}

	get("/pool")
	line := buf.String()
	for _, want := range []string{`"node":"beacond-ops"`, `"plane":"ops"`, `"route":"/pool"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("pool log missing %s: %s", want, line)
		}
	}

	unmatched := httpRequests.WithLabelValues("beacond-ops", http.MethodGet, RouteUnmatched, "404")
	before := testutil.ToFloat64(unmatched)
	buf.Reset()
	if code := get("/nope"); code != http.StatusNotFound {
		t.Fatalf("unmatched: status %d", code)
	}
	if got := testutil.ToFloat64(unmatched); got != before+1 {
		t.Fatalf("unmatched counter: got %v want %v", got, before+1)
	}
	if !strings.Contains(buf.String(), `"route":"unmatched"`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("unmatched log: %s", buf.String())
	}
}
