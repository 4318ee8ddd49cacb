package cnpj

import (
	"errors"
	"fmt"
)

var (
	ErrNoArchives          = errors.New("no archives discovered")
	ErrCorruptArchive      = errors.New("corrupt archive")
	ErrMalformedRow        = errors.New("malformed row")
	ErrTooManyRejectedRows = errors.New("too many rejected rows in chunk")
	ErrAuxTableFailed      = errors.New("auxiliary table failed")
	ErrStopRequested       = errors.New("stop requested")
	ErrConfiguration       = errors.New("invalid configuration")
)

// ErrorKind classifies pipeline failures by how they are recovered from.
type ErrorKind string

const (
	KindTransientNetwork  ErrorKind = "transient_network"
	KindCorruptArchive    ErrorKind = "corrupt_archive"
	KindParse             ErrorKind = "parse"
	KindDatabaseTransient ErrorKind = "database_transient"
	KindDatabaseFatal     ErrorKind = "database_fatal"
	KindConfiguration     ErrorKind = "configuration"
	KindStopped           ErrorKind = "stopped"
)

type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first PipelineError in the chain, or the
// empty kind when there is none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
