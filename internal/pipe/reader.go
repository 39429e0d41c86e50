package pipe

import (
	"errors"
	"io"
)

// readerSource is a first stage that emits whatever it reads from an
// `io.Reader`.
type readerSource struct {
	name string
	r    io.Reader
	eof  bool
}

// Reader returns a source stage named `name` that copies `r` into the
// pipeline, one read per step. Reads block, so `r` should be something
// that eventually reports EOF (a file, or the read end of a pipe). The
// caller remains responsible for closing `r`.
func Reader(name string, r io.Reader) Stage {
	return &readerSource{name: name, r: r}
}

func (s *readerSource) Name() string {
	return s.name
}

func (s *readerSource) Run(pos Position) (int, error) {
	if pos.Role != First {
		return 0, Unsupported(s.name, pos.Role)
	}
	if s.eof {
		return 0, nil
	}

	n, err := s.r.Read(pos.Out)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		s.eof = true
		return n, nil
	default:
		return n, ioError(s.name, "read", err)
	}
}

func (s *readerSource) Done(Upstream) (bool, error) {
	return s.eof, nil
}

