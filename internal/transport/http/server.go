// Package http provides the HTTP server for the payment session service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xiaot623/pmpcs/internal/hub"
	"github.com/xiaot623/pmpcs/internal/metrics"
	"github.com/xiaot623/pmpcs/internal/service"
	v1 "github.com/xiaot623/pmpcs/internal/transport/http/v1"
	"github.com/xiaot623/pmpcs/internal/transport/ws"
)

// NewServer creates and configures the HTTP server. The watch endpoint is
// only registered when h is not nil.
func NewServer(svc *service.Service, h *hub.Hub, wsCfg ws.Config, logger zerolog.Logger) *echo.Echo {
	metrics.RegisterMetrics()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(RequestLogger(logger))
	e.Use(RequestMetrics())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	if h != nil {
		ws.NewServer(wsCfg, h, svc, logger).RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
