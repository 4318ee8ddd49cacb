package bootstrap

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammadpnp/cnpj-import/internal/application/ingest"
	httpecho "github.com/mohammadpnp/cnpj-import/internal/interfaces/http/echo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewHTTPServer(c *Container) *echo.Echo {
	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("1M"))

	startRun := ingest.NewStartRun(c.Controller, c.RunDefaults())
	stopRun := ingest.NewStopRun(c.Controller)
	getStatus := ingest.NewGetRunStatus(c.Controller, c.Tracker, c.Stats, c.Logger)
	runHandler := httpecho.NewRunHandler(startRun, stopRun, getStatus)

	httpecho.RegisterRoutes(server, runHandler)

	server.GET("/healthz", func(ctx echo.Context) error {
		sqlDB, err := c.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx.Request().Context())
		}
		if err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	server.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})))

	return server
}
