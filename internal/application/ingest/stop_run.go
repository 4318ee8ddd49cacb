package ingest

import (
	"context"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

type StopRunOutput struct {
	Status domain.Progress `json:"status"`
}

type StopRun interface {
	Execute(ctx context.Context) (StopRunOutput, error)
}

type runStopper interface {
	Stop() error
	Status() domain.Progress
}

type stopRun struct {
	controller runStopper
}

func NewStopRun(controller runStopper) StopRun {
	return &stopRun{controller: controller}
}

func (uc *stopRun) Execute(ctx context.Context) (StopRunOutput, error) {
	if err := uc.controller.Stop(); err != nil {
		return StopRunOutput{}, err
	}
	return StopRunOutput{Status: uc.controller.Status()}, nil
}
