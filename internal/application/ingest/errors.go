package ingest

import "errors"

var (
	ErrRunInProgress     = errors.New("a run is already in progress")
	ErrNotRunning        = errors.New("no run in progress")
	ErrInvalidRunRequest = errors.New("invalid run request")
)
