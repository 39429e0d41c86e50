package pipe

import (
	"io"
	"strings"
	"unicode/utf8"
)

// writerSink is a stage that copies its input to a specified
// `io.Writer`. It generates no output itself.
type writerSink struct {
	InheritDone
	name string
	w    io.Writer
}

// WriterSink returns a last stage that writes everything it receives
// to `w`.
func WriterSink(w io.Writer) Stage {
	return &writerSink{name: "writer", w: w}
}

// Discard returns a last stage that drops everything it receives.
func Discard() Stage {
	return &writerSink{name: "/dev/null", w: io.Discard}
}

func (s *writerSink) Name() string {
	return s.name
}

func (s *writerSink) Run(pos Position) (int, error) {
	if pos.Role != Last {
		return 0, Unsupported(s.name, pos.Role)
	}
	if len(pos.In) == 0 {
		return 0, nil
	}
	if _, err := s.w.Write(pos.In); err != nil {
		return 0, ioError(s.name, "write", err)
	}
	return 0, nil
}

// stringSink appends its input, as text, to a `strings.Builder` that
// belongs to the caller.
type stringSink struct {
	sb *strings.Builder

	// The leading bytes of a rune that was split between two steps.
	partial []byte

	// The number of bytes accepted so far, for error reporting.
	offset int64
}

// StringSink returns a last stage that appends its input to `sb`. The
// input must be UTF-8; a multibyte character may be split across
// steps. `sb` must outlive the pipeline run, and output that has been
// appended before an error is left in place.
func StringSink(sb *strings.Builder) Stage {
	return &stringSink{sb: sb}
}

func (s *stringSink) Name() string {
	return "string"
}

func (s *stringSink) Run(pos Position) (int, error) {
	if pos.Role != Last {
		return 0, Unsupported(s.Name(), pos.Role)
	}

	chunk := pos.In
	if len(s.partial) > 0 {
		chunk = append(s.partial, chunk...)
		s.partial = nil
	}

	// Hold back a trailing incomplete rune, if any:
	tail := incompleteSuffix(chunk)
	if !utf8.Valid(chunk[:len(chunk)-tail]) {
		// Keep the valid text in front of the bad byte:
		good := invalidOffset(chunk)
		s.sb.Write(chunk[:good])
		s.offset += int64(good)
		return 0, newEncodingError(s.Name(), s.offset, chunk[good:])
	}

	if tail > 0 {
		s.partial = append([]byte(nil), chunk[len(chunk)-tail:]...)
		chunk = chunk[:len(chunk)-tail]
	}

	s.sb.Write(chunk)
	s.offset += int64(len(chunk))
	return 0, nil
}

// Done follows upstream, but a character that was never completed is
// an error once upstream has nothing more to send.
func (s *stringSink) Done(up Upstream) (bool, error) {
	if !up.Finished() {
		return false, nil
	}
	if len(s.partial) > 0 {
		return false, newEncodingError(s.Name(), s.offset, s.partial)
	}
	return true, nil
}

// incompleteSuffix returns the length of the trailing bytes of `b`
// that could be the start of a valid multibyte rune that hasn't been
// completed yet, or 0.
func incompleteSuffix(b []byte) int {
	// Look at the last few bytes for a rune-start byte:
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if c < utf8.RuneSelf {
				return 0
			}
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
