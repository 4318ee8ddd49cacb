package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
)

type StartRunInput struct {
	Download *bool
	Import   *bool
	Tables   []string
}

type StartRunOutput struct {
	Started bool            `json:"started"`
	Status  domain.Progress `json:"status"`
}

type StartRun interface {
	Execute(ctx context.Context, in StartRunInput) (StartRunOutput, error)
}

type runStarter interface {
	Start(opts RunOptions) error
	Status() domain.Progress
}

type startRun struct {
	controller runStarter
	defaults   RunOptions
}

// NewStartRun applies defaults to toggles the request leaves unset.
func NewStartRun(controller runStarter, defaults RunOptions) StartRun {
	return &startRun{controller: controller, defaults: defaults}
}

func (uc *startRun) Execute(ctx context.Context, in StartRunInput) (StartRunOutput, error) {
	opts := RunOptions{Download: uc.defaults.Download, Import: uc.defaults.Import}
	if in.Download != nil {
		opts.Download = *in.Download
	}
	if in.Import != nil {
		opts.Import = *in.Import
	}
	if !opts.Download && !opts.Import {
		return StartRunOutput{}, fmt.Errorf("%w: download and import are both disabled", ErrInvalidRunRequest)
	}

	for _, name := range in.Tables {
		name = strings.TrimSpace(strings.ToLower(name))
		if _, ok := domain.TableByName(name); !ok {
			return StartRunOutput{}, fmt.Errorf("%w: unknown table %q", ErrInvalidRunRequest, name)
		}
		opts.Tables = append(opts.Tables, name)
	}

	err := uc.controller.Start(opts)
	if errors.Is(err, ErrRunInProgress) {
		return StartRunOutput{Started: false, Status: uc.controller.Status()}, nil
	}
	if err != nil {
		return StartRunOutput{}, err
	}
	return StartRunOutput{Started: true, Status: uc.controller.Status()}, nil
}
