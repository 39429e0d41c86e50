package pipe

import (
	"strings"
)

// Pipe returns a Processor with the given per-step `capacity` and
// `stages`, in order.
func Pipe(capacity int, stages ...Stage) *Processor {
	p := New(capacity)
	p.Add(stages...)
	return p
}

// Then appends `s` to the pipeline and returns the pipeline, so that
// calls can be chained:
//
//     out, err := pipe.Pipe(512, pipe.String("hello")).
//         Then(pipe.MustCommand("tr", "a-z", "A-Z")).
//         Output()
func (p *Processor) Then(s Stage) *Processor {
	p.Add(s)
	return p
}

// RunInto appends a `StringSink` writing to `sb`, runs the pipeline
// to completion, and closes it. Whatever was appended to `sb` before
// an error stays there.
func (p *Processor) RunInto(sb *strings.Builder) error {
	p.Add(StringSink(sb))
	return p.runAndClose()
}

// Output runs the pipeline to completion and returns its output, which
// must be valid UTF-8.
func (p *Processor) Output() (string, error) {
	var sb strings.Builder
	err := p.RunInto(&sb)
	return sb.String(), err
}

// RunDiscard runs the pipeline to completion, discarding its output,
// and closes it.
func (p *Processor) RunDiscard() error {
	p.Add(Discard())
	return p.runAndClose()
}

func (p *Processor) runAndClose() error {
	err := p.Run()
	if cErr := p.Close(); err == nil {
		err = cErr
	}
	return err
}
