package pipe

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/github/procpipe/counts"
	"github.com/github/procpipe/internal/metrics"
	"github.com/github/procpipe/meter"
)

// DefaultCapacity is the per-step buffer size used by `Pipe()` callers
// that don't have a better idea.
const DefaultCapacity = 512

// Processor pumps data through an ordered sequence of stages, one
// bounded chunk per step, using two buffer halves that trade places
// every time a middle stage runs:
//
//     [a, b, c, d, e]
//     a: First(A)
//     b: Middle(A -> B)
//     c: Middle(B -> A)
//     d: Middle(A -> B)
//     e: Last(B)
//
// Everything happens synchronously on the caller's goroutine.
//
// Known constraint: when an external command sits in the middle of a
// pipeline, the processor writes that command's stdin and reads its
// stdout from the same goroutine. If the command produces more output
// than its stdout pipe can hold while the processor is still blocked
// writing its stdin, both sides wait on each other forever. Keep the
// capacity modest relative to the OS pipe buffer (typically 64 KiB).
type Processor struct {
	stages   []Stage
	buffer   []byte
	capacity int

	log      *zap.Logger
	metrics  *metrics.Collector
	progress meter.Progress
	runID    uuid.UUID

	steps counts.Count64
	bytes []counts.Count64

	// Set once the processor has stepped or checked for completion.
	// Stages can't be added after that.
	started bool
}

// Option is a type alias for Processor functional options.
type Option func(*Processor)

// WithLogger sets the logger that step-by-step progress is reported
// to, at debug level.
func WithLogger(log *zap.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

// WithMetrics arranges for step and byte counts to be recorded in
// `m`.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithProgress sets the meter that `Run()` reports the number of
// bytes delivered to the last stage to.
func WithProgress(progress meter.Progress) Option {
	return func(p *Processor) {
		p.progress = progress
	}
}

// WithRunID overrides the random identifier that is attached to log
// entries.
func WithRunID(id uuid.UUID) Option {
	return func(p *Processor) {
		p.runID = id
	}
}

// New returns a Processor that moves at most `capacity` bytes between
// adjacent stages per step, with all of the `options` applied.
func New(capacity int, options ...Option) *Processor {
	if capacity < 1 {
		panic(fmt.Sprintf("invalid processor capacity %d", capacity))
	}

	p := &Processor{
		buffer:   make([]byte, 2*capacity),
		capacity: capacity,
		log:      zap.NewNop(),
		progress: &meter.NoProgressMeter{},
		runID:    uuid.New(),
	}

	for _, option := range options {
		option(p)
	}

	p.log = p.log.With(zap.Stringer("run_id", p.runID))

	return p
}

// Capacity returns the number of bytes that can move between two
// stages in one step.
func (p *Processor) Capacity() int {
	return p.capacity
}

// RunID returns the identifier attached to this processor's log
// entries.
func (p *Processor) RunID() uuid.UUID {
	return p.runID
}

// Len returns the number of stages.
func (p *Processor) Len() int {
	return len(p.stages)
}

// Add appends one or more stages to the pipeline.
func (p *Processor) Add(stages ...Stage) {
	if p.started {
		panic("attempt to modify a pipeline that has already started")
	}

	p.stages = append(p.stages, stages...)
}

// AddWithIgnoredError appends one or more stages that are ignoring
// the passed in error to the pipeline.
func (p *Processor) AddWithIgnoredError(em ErrorMatcher, stages ...Stage) {
	for _, stage := range stages {
		p.Add(IgnoreError(stage, em))
	}
}

func (p *Processor) start() {
	if p.started {
		return
	}
	p.started = true
	p.bytes = make([]counts.Count64, len(p.stages))

	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	p.log.Debug("starting pipeline",
		zap.Strings("stages", names),
		zap.Int("capacity", p.capacity),
	)
}

// Step performs one pass over every stage, left to right. Each stage
// sees exactly the bytes that its predecessor produced during this
// pass. A single stage is run as `First`; it never sees `Last`.
func (p *Processor) Step() error {
	p.start()

	a := p.buffer[:p.capacity:p.capacity]
	b := p.buffer[p.capacity:]

	// `cur` holds the output of the stage that ran most recently,
	// `n` is how much of it is valid.
	cur, other := a, b
	n := 0

	last := len(p.stages) - 1
	for i, s := range p.stages {
		var pos Position
		switch {
		case i == 0:
			pos = Position{Role: First, Out: a}
		case i == last:
			pos = Position{Role: Last, In: cur[:n]}
		default:
			pos = Position{Role: Middle, In: cur[:n], Out: other}
		}

		written, err := s.Run(pos)
		if err != nil {
			return p.fail(s, err)
		}

		switch pos.Role {
		case First, Middle:
			if written < 0 || written > len(pos.Out) {
				return p.fail(s, &ContractError{
					Stage:    s.Name(),
					Role:     pos.Role,
					Returned: written,
					Capacity: len(pos.Out),
				})
			}
			n = written
			if pos.Role == Middle {
				cur, other = other, cur
			}
		case Last:
			written = len(pos.In)
		}

		p.bytes[i].Increment(counts.NewCount64(uint64(written)))
		p.metrics.AddBytes(s.Name(), written)

		if i == last {
			p.progress.Add(int64(written))
		}

		if ce := p.log.Check(zap.DebugLevel, "stage ran"); ce != nil {
			ce.Write(
				zap.String("stage", s.Name()),
				zap.Stringer("role", pos.Role),
				zap.Int("in", len(pos.In)),
				zap.Int("bytes", written),
			)
		}
	}

	p.steps.Increment(1)
	p.metrics.ObserveStep()

	return nil
}

// IsComplete folds every stage's completion state left to right,
// handing each stage the state of the one before it. The pipeline is
// complete when every stage is. It doesn't move any data.
func (p *Processor) IsComplete() (bool, error) {
	p.start()

	complete := true
	up := NoUpstream
	for _, s := range p.stages {
		done, err := s.Done(up)
		if err != nil {
			return false, p.fail(s, err)
		}
		complete = complete && done
		up = upstreamOf(done)
	}

	return complete, nil
}

// Run steps the pipeline until it is complete. The first error, from
// either a step or a completion check, is returned immediately and
// leaves the pipeline where it stopped.
func (p *Processor) Run() error {
	p.progress.Start("Pumped %d bytes")
	defer p.progress.Done()

	for {
		complete, err := p.IsComplete()
		if err != nil {
			return err
		}
		if complete {
			p.log.Debug("pipeline complete", zap.Uint64("steps", p.steps.ToUint64()))
			return nil
		}
		if err := p.Step(); err != nil {
			return err
		}
	}
}

func (p *Processor) fail(s Stage, err error) error {
	kind := "other"
	for _, k := range []error{ErrIO, ErrOS, ErrEncoding, ErrContract} {
		if errors.Is(err, k) {
			kind = k.Error()
			break
		}
	}
	p.metrics.AddError(s.Name(), kind)
	p.log.Debug("stage failed", zap.String("stage", s.Name()), zap.Error(err))

	return fmt.Errorf("%s: %w", s.Name(), err)
}

// Steps returns the number of completed steps.
func (p *Processor) Steps() uint64 {
	return p.steps.ToUint64()
}

// StageStats is the number of bytes that a stage has handed on (or,
// for the last stage, consumed).
type StageStats struct {
	Name  string         `json:"name"`
	Bytes counts.Count64 `json:"bytes"`
}

// Stats returns per-stage byte counts, in pipeline order.
func (p *Processor) Stats() []StageStats {
	stats := make([]StageStats, len(p.stages))
	for i, s := range p.stages {
		stats[i].Name = s.Name()
		if i < len(p.bytes) {
			stats[i].Bytes = p.bytes[i]
		}
	}
	return stats
}

// Close releases the resources held by any stages that implement
// `io.Closer` (for example, reaping external commands). It returns the
// error from the earliest stage that failed to close.
func (p *Processor) Close() error {
	var earliestErr error
	for i := len(p.stages) - 1; i >= 0; i-- {
		s := p.stages[i]
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			earliestErr = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return earliestErr
}
