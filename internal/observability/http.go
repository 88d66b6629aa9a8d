package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouteUnmatched labels requests that hit no registered route, keeping the
// route label bounded.
const RouteUnmatched = "unmatched"

// Route is an extra read-only endpoint mounted on the ops router.
type Route struct {
	Path    string
	Handler gin.HandlerFunc
}

// quietRoutes are polled by scrapers and health checks; they are counted but
// only logged when they fail.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// NewRouter builds the ops HTTP surface: /health, /metrics and any extra routes.
func NewRouter(node string, logger zerolog.Logger, routes ...Route) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery(), opsAccess(node, logger.With().Str("node", node).Str("plane", "ops").Logger()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": node})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	for _, route := range routes {
		r.GET(route.Path, route.Handler)
	}
	return r
}

// opsAccess records every request under its registered route and logs the
// ones an operator would care about.
func opsAccess(node string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = RouteUnmatched
		}
		RecordHTTPRequest(node, c.Request.Method, route, status, elapsed)

		if quietRoutes[route] && status < http.StatusBadRequest {
			return
		}
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("observability.opsAccess")
	}
}
