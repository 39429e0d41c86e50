// Package streaming runs a chain of external commands the ordinary
// way: every command runs concurrently, connected by OS pipes, using
// `github.com/github/go-pipe`. It exists so that the stepwise
// processor's results can be compared against a conventional
// pipeline.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/github/go-pipe/pipe"
)

// Argv is one command and its arguments.
type Argv []string

// Run pipes `stdin` (if not nil) through `commands` and writes the
// final output to `stdout`.
func Run(ctx context.Context, stdin io.Reader, stdout io.Writer, commands ...Argv) error {
	if len(commands) == 0 {
		return errors.New("no commands to run")
	}

	var options []pipe.Option
	if stdin != nil {
		options = append(options, pipe.WithStdin(stdin))
	}
	if stdout != nil {
		options = append(options, pipe.WithStdout(stdout))
	}

	p := pipe.New(options...)
	for i, argv := range commands {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("command %d is empty", i+1)
		}
		p.Add(pipe.Command(argv[0], argv[1:]...))
	}

	return p.Run(ctx)
}
