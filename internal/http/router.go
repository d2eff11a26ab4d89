package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/config"
	"github.com/smallbiznis/hubspot-connector/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/hubspot-connector/internal/http/middleware"
	"github.com/smallbiznis/hubspot-connector/internal/metrics"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, h *handler.ConnectorHandler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// HubSpot redirects here after the user approves the app.
	r.GET("/", h.OAuthRedirect)
	r.GET("/install", h.Install)

	hubspot := r.Group("/hubspot")
	{
		hubspot.GET("/test", h.HubSpotTest)
	}

	r.GET("/healthz", h.Healthz)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	return r
}
