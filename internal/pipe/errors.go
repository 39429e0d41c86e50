package pipe

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/saintfish/chardet"
)

var (
	// ErrIO classifies failures reading from or writing to a stage's
	// streams.
	ErrIO = errors.New("i/o fault")

	// ErrOS classifies failures spawning or polling a process,
	// including a process that exited unsuccessfully.
	ErrOS = errors.New("os fault")

	// ErrEncoding classifies bytes that are not valid text where text
	// was required.
	ErrEncoding = errors.New("encoding fault")

	// ErrContract classifies programming errors: a stage returned
	// more bytes than it was given room for, or was run in a role
	// that it doesn't support.
	ErrContract = errors.New("contract fault")
)

// StageError is an operational failure of a stage. It matches its
// `Kind` via `errors.Is()` and unwraps to the underlying cause.
type StageError struct {
	// Kind is one of `ErrIO`, `ErrOS`, `ErrEncoding`, `ErrContract`.
	Kind  error
	Stage string
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *StageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func ioError(stage, op string, err error) error {
	return &StageError{Kind: ErrIO, Stage: stage, Op: op, Err: err}
}

func osError(stage, op string, err error) error {
	return &StageError{Kind: ErrOS, Stage: stage, Op: op, Err: err}
}

// ContractError reports a violation of the `Stage` contract.
type ContractError struct {
	Stage string
	Role  Role

	// Returned and Capacity are set when a stage reported writing
	// more bytes than fit in its output slice.
	Returned int
	Capacity int

	// Msg is set when the stage was run in a role it doesn't
	// support.
	Msg string
}

func (e *ContractError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("stage %q run as %s: %s", e.Stage, e.Role, e.Msg)
	}
	return fmt.Sprintf(
		"stage %q run as %s reported %d bytes written into a %d-byte buffer",
		e.Stage, e.Role, e.Returned, e.Capacity,
	)
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// Unsupported returns the error that a stage should return when it is
// run in a role that it can't play.
func Unsupported(stage string, role Role) error {
	var msg string
	switch role {
	case First:
		msg = "stage cannot produce data"
	case Middle:
		msg = "stage cannot transform data"
	case Last:
		msg = "stage cannot consume data"
	default:
		msg = "unknown role"
	}
	return &ContractError{Stage: stage, Role: role, Msg: msg}
}

// EncodingError is returned by a text sink that received bytes that
// are not valid UTF-8.
type EncodingError struct {
	Stage string

	// Offset is the position of the first invalid byte within the
	// stream the sink has received.
	Offset int64

	// Charset is a best guess at what the input really was (e.g.,
	// "ISO-8859-1"), or empty if nothing could be guessed.
	Charset string
}

func (e *EncodingError) Error() string {
	if e.Charset != "" {
		return fmt.Sprintf(
			"invalid UTF-8 at byte %d (input looks like %s)", e.Offset, e.Charset,
		)
	}
	return fmt.Sprintf("invalid UTF-8 at byte %d", e.Offset)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// newEncodingError builds an `EncodingError` for `chunk`, whose first
// byte is at `base` in the stream.
func newEncodingError(stage string, base int64, chunk []byte) *EncodingError {
	e := &EncodingError{Stage: stage, Offset: base + int64(invalidOffset(chunk))}

	if r, err := chardet.NewTextDetector().DetectBest(chunk); err == nil && r.Charset != "UTF-8" {
		e.Charset = r.Charset
	}
	return e
}

func invalidOffset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
