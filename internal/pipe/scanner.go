package pipe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
)

// TokenFunc is a function that can be embedded in a `SplitFunction`
// stage. It is called once per token of input and may append whatever
// it likes to `out`.
//
// The function mustn't retain copies of `token`, since it may be
// overwritten every time the function is called.
type TokenFunc func(token []byte, out *bytes.Buffer) error

// SplitFunction creates a function-based `Stage`. Its input is split
// into tokens using `split` (any `bufio.SplitFunc`), and `f` is called
// with one token at a time. Input is accumulated across steps until a
// whole token is available; once upstream is done, `split` is called
// with `atEOF` set so that a trailing partial token is delivered too.
//
// If `f` returns the special error `FinishEarly`, the stage stops
// processing input.
func SplitFunction(name string, split bufio.SplitFunc, f TokenFunc) Stage {
	sp := &splitter{split: split, f: f}
	return &bufferedStage{
		name: name,
		process: func(in []byte, out *bytes.Buffer) error {
			sp.carry = append(sp.carry, in...)
			return sp.scan(false, out)
		},
		finish: func(out *bytes.Buffer) error {
			return sp.scan(true, out)
		},
	}
}

type splitter struct {
	split bufio.SplitFunc
	f     TokenFunc

	// Input that hasn't been consumed by `split` yet.
	carry []byte
}

func (sp *splitter) scan(atEOF bool, out *bytes.Buffer) error {
	for {
		advance, token, err := sp.split(sp.carry, atEOF)
		final := false
		if err != nil {
			if !errors.Is(err, bufio.ErrFinalToken) {
				return err
			}
			final = true
		}
		if advance < 0 || advance > len(sp.carry) {
			return fmt.Errorf("split function advanced %d bytes of %d", advance, len(sp.carry))
		}
		if advance == 0 && !atEOF && !final {
			// Need more input.
			return nil
		}
		sp.carry = sp.carry[advance:]

		if token != nil {
			if err := sp.f(token, out); err != nil {
				return err
			}
		}

		if final || advance == 0 {
			sp.carry = nil
			if final {
				return FinishEarly
			}
			return nil
		}
	}
}
