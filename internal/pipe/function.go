package pipe

import (
	"bytes"
	"errors"
)

// FinishEarly is an error that can be returned by a `FilterFunc` or
// `TokenFunc` to request that the stage stop processing its input
// early. This "error" is considered a successful return, and is not
// reported to the caller. Output that the stage has already produced
// is still passed on, and any further input is dropped.
//nolint:errname
var FinishEarly = errors.New("finish stage early")

// StageFunc is a function that can be used to power a `Function`
// stage. It is given the raw position for each step and must obey the
// same contract as `Stage.Run()`.
type StageFunc func(pos Position) (int, error)

// Function returns a pipeline `Stage` that calls `f` on every step.
// The stage is finished when its upstream is; `f` must not keep any
// output back between steps. Use `Filter()` for functions whose output
// might not fit.
func Function(name string, f StageFunc) Stage {
	return &funcStage{name: name, f: f}
}

type funcStage struct {
	InheritDone
	name string
	f    StageFunc
}

func (s *funcStage) Name() string {
	return s.name
}

func (s *funcStage) Run(pos Position) (int, error) {
	return s.f(pos)
}

// FilterFunc is a function that can be used to power a `Filter`
// stage. It is called with each chunk of input and appends whatever
// output it likes to `out`. Output that doesn't fit into the current
// step is held back and passed on during later steps.
//
// `in` is only valid during the call; the function mustn't retain it.
type FilterFunc func(in []byte, out *bytes.Buffer) error

// Filter returns a transforming `Stage` based on `f`. As the last
// stage of a pipeline, its output is discarded.
func Filter(name string, f FilterFunc) Stage {
	return &bufferedStage{name: name, process: f}
}

// Map returns a `Stage` that replaces every byte of its input with
// `f(b)`.
func Map(name string, f func(b byte) byte) Stage {
	return Filter(
		name,
		func(in []byte, out *bytes.Buffer) error {
			out.Grow(len(in))
			for _, b := range in {
				out.WriteByte(f(b))
			}
			return nil
		},
	)
}

// Identity returns a `Stage` that passes its input on unchanged.
func Identity() Stage {
	return Filter(
		"identity",
		func(in []byte, out *bytes.Buffer) error {
			_, err := out.Write(in)
			return err
		},
	)
}

// bufferedStage is a transforming `Stage` that feeds its input to a Go
// function and queues the function's output until there is room to
// pass it on.
type bufferedStage struct {
	name    string
	process FilterFunc

	// finish, if set, is called once, after upstream is done, to
	// emit anything that the stage was holding back.
	finish func(out *bytes.Buffer) error

	pending      bytes.Buffer
	upstreamDone bool
	finished     bool
	stopped      bool
}

func (s *bufferedStage) Name() string {
	return s.name
}

func (s *bufferedStage) Run(pos Position) (int, error) {
	if pos.Role == First {
		return 0, Unsupported(s.name, pos.Role)
	}

	if len(pos.In) > 0 && !s.stopped {
		if err := s.process(pos.In, &s.pending); err != nil {
			if !errors.Is(err, FinishEarly) {
				return 0, err
			}
			s.stopped = true
		}
	}

	if s.upstreamDone && !s.finished {
		s.finished = true
		if s.finish != nil && !s.stopped {
			if err := s.finish(&s.pending); err != nil && !errors.Is(err, FinishEarly) {
				return 0, err
			}
		}
	}

	if pos.Role == Last {
		s.pending.Reset()
		return 0, nil
	}

	if s.pending.Len() == 0 {
		return 0, nil
	}
	// Reading from a non-empty buffer never fails:
	n, _ := s.pending.Read(pos.Out)
	return n, nil
}

// Done reports true once upstream is done, any final output has been
// generated, and all of the output has been passed on.
func (s *bufferedStage) Done(up Upstream) (bool, error) {
	if up.Finished() {
		s.upstreamDone = true
	}
	if !s.upstreamDone {
		return false, nil
	}
	if s.finish != nil && !s.finished && !s.stopped {
		return false, nil
	}
	return s.pending.Len() == 0, nil
}
