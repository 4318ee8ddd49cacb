package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, runHandler *RunHandler) {
	server.POST("/api/v1/runs", runHandler.StartRun)
	server.POST("/api/v1/runs/stop", runHandler.StopRun)
	server.GET("/api/v1/runs/status", runHandler.RunStatus)
}
