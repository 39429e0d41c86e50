package pipe

// Role describes which part a stage plays in the current step.
type Role int

const (
	// First is the role of the stage that produces data. It has no
	// input and fills `Position.Out`.
	First Role = iota

	// Middle is the role of a stage that transforms data. It reads
	// `Position.In` (which holds exactly what the previous stage
	// produced during this step) and fills `Position.Out`.
	Middle

	// Last is the role of the stage that consumes data. It reads
	// `Position.In` and produces nothing.
	Last
)

func (r Role) String() string {
	switch r {
	case First:
		return "first"
	case Middle:
		return "middle"
	case Last:
		return "last"
	default:
		return "unknown"
	}
}

// Position is what a stage is handed for one step: its role and the
// buffer views that go with it. `In` is nil for `First`, `Out` is nil
// for `Last`.
type Position struct {
	Role Role
	In   []byte
	Out  []byte
}

// Upstream is the completion state of the preceding stage, as passed
// to `Stage.Done()`.
type Upstream int

const (
	// NoUpstream is passed to the first stage of a pipeline.
	NoUpstream Upstream = iota

	// UpstreamRunning means that the previous stage is not finished.
	UpstreamRunning

	// UpstreamDone means that the previous stage is finished.
	UpstreamDone
)

// Finished reports whether `u` is `UpstreamDone`.
func (u Upstream) Finished() bool {
	return u == UpstreamDone
}

func upstreamOf(done bool) Upstream {
	if done {
		return UpstreamDone
	}
	return UpstreamRunning
}

// Stage is an element of a `Processor`.
type Stage interface {
	// Name returns the name of the stage.
	Name() string

	// Run performs one bounded unit of work for the position `pos`.
	// For `First` and `Middle` it returns the number of bytes that it
	// wrote into `pos.Out`, which must never exceed `len(pos.Out)`.
	// For `Last` the return value is ignored and should be 0.
	//
	// A stage that doesn't support the role it is given should
	// return an error satisfying `errors.Is(err, ErrContract)` (see
	// `Unsupported()`).
	Run(pos Position) (int, error)

	// Done reports whether the stage is finished, given the
	// completion state of the stage before it in the same pass. It
	// must not move any data through the pipeline.
	Done(up Upstream) (bool, error)
}

// InheritDone can be embedded in a stage to give it the default
// completion behavior: it is finished as soon as its upstream is.
type InheritDone struct{}

func (InheritDone) Done(up Upstream) (bool, error) {
	return up.Finished(), nil
}
