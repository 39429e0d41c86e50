package pipe

import (
	"fmt"
	"strconv"
)

// literalSource is a stage that emits a fixed sequence of bytes, as
// much of it per step as fits. It can only be the first stage.
type literalSource struct {
	name    string
	data    []byte
	written int
}

// Bytes returns a source stage that emits `data`. The slice is not
// copied, so the caller mustn't modify it while the pipeline runs.
func Bytes(data []byte) Stage {
	return &literalSource{
		name: sourceName(data),
		data: data,
	}
}

// maxNameData is how much of a literal source's data shows up in its
// name (and hence in logs and metric labels).
const maxNameData = 16

func sourceName(data []byte) string {
	if len(data) <= maxNameData {
		return "echo " + strconv.Quote(string(data))
	}
	return "echo " + strconv.Quote(string(data[:maxNameData])) + "..."
}

// String returns a source stage that emits `s`.
func String(s string) Stage {
	return Bytes([]byte(s))
}

func Print(a ...interface{}) Stage {
	return String(fmt.Sprint(a...))
}

func Println(a ...interface{}) Stage {
	return String(fmt.Sprintln(a...))
}

func Printf(format string, a ...interface{}) Stage {
	return String(fmt.Sprintf(format, a...))
}

func (s *literalSource) Name() string {
	return s.name
}

func (s *literalSource) Run(pos Position) (int, error) {
	if pos.Role != First {
		return 0, Unsupported(s.name, pos.Role)
	}

	n := copy(pos.Out, s.data[s.written:])
	s.written += n
	return n, nil
}

func (s *literalSource) Done(Upstream) (bool, error) {
	return s.written == len(s.data), nil
}
