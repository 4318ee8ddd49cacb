package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	app "github.com/mohammadpnp/cnpj-import/internal/application/ingest"
)

type RunHandler struct {
	start  app.StartRun
	stop   app.StopRun
	status app.GetRunStatus
}

type startRunRequest struct {
	Download *bool    `json:"download"`
	Import   *bool    `json:"import"`
	Tables   []string `json:"tables"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewRunHandler(start app.StartRun, stop app.StopRun, status app.GetRunStatus) *RunHandler {
	return &RunHandler{start: start, stop: stop, status: status}
}

// StartRun answers 202 when a run was launched and 200 when one was already
// in progress.
func (h *RunHandler) StartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		}})
	}

	out, err := h.start.Execute(c.Request().Context(), app.StartRunInput{
		Download: req.Download,
		Import:   req.Import,
		Tables:   req.Tables,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidRunRequest) {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "invalid_run_request",
				Message: err.Error(),
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to start run",
		}})
	}

	if !out.Started {
		return c.JSON(http.StatusOK, apiResponse{Data: out})
	}
	return c.JSON(http.StatusAccepted, apiResponse{Data: out})
}

func (h *RunHandler) StopRun(c echo.Context) error {
	out, err := h.stop.Execute(c.Request().Context())
	if err != nil {
		if errors.Is(err, app.ErrNotRunning) {
			return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
				Code:    "not_running",
				Message: "no run in progress",
			}})
		}
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to stop run",
		}})
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: out})
}

func (h *RunHandler) RunStatus(c echo.Context) error {
	out, err := h.status.Execute(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: "failed to read run status",
		}})
	}

	return c.JSON(http.StatusOK, apiResponse{Data: out})
}
