package pipe

import (
	"bytes"
)

// LinewiseFunction returns a function-based `Stage`. The input will
// be split into LF-terminated lines and passed to `f` one line at a
// time (without the LF). The function may append output to `out`;
// it needn't write one line of output per line of input. A final line
// without an LF is delivered once upstream is done.
//
// If `f` returns an error, the whole pipeline will be aborted with
// that error. However, if it returns `pipe.FinishEarly`, the stage
// will stop processing input, pass on what it has already produced,
// and then finish.
func LinewiseFunction(name string, f TokenFunc) Stage {
	return SplitFunction(name, ScanLFTerminatedLines, f)
}

// ScanLFTerminatedLines is a `bufio.SplitFunc` that splits its input
// into lines at LF characters (not treating CR specially).
func ScanLFTerminatedLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i != -1 {
		return i + 1, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
