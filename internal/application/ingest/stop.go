package ingest

import "sync"

// StopFlag is the cooperative stop request of one run. It is checked between
// chunks and between files.
type StopFlag struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopFlag() *StopFlag {
	return &StopFlag{ch: make(chan struct{})}
}

func (s *StopFlag) Request() {
	s.once.Do(func() { close(s.ch) })
}

func (s *StopFlag) Requested() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *StopFlag) Done() <-chan struct{} {
	return s.ch
}
