package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/github/procpipe/counts"
	"github.com/github/procpipe/internal/config"
	"github.com/github/procpipe/internal/logging"
	"github.com/github/procpipe/internal/metrics"
	"github.com/github/procpipe/internal/pipe"
	"github.com/github/procpipe/internal/streaming"
	"github.com/github/procpipe/meter"
)

const usage = `usage: procpipe [OPTS] CMD [ARG...] ['|' CMD [ARG...]]...

Run a chain of commands, shell-style, moving at most --capacity bytes
between neighboring commands per step. Separate commands with a '|'
argument (quoted, so that the shell doesn't interpret it).

The first command reads --input if it is given. Otherwise it reads
procpipe's stdin, unless that is a terminal, in which case its stdin
is empty.
`

// Engine selects how the commands are run.
type Engine string

const (
	// EngineStep pumps data through the commands one step at a time.
	EngineStep Engine = "step"

	// EngineStreaming runs the commands concurrently, connected by OS
	// pipes.
	EngineStreaming Engine = "streaming"
)

// Methods to implement pflag.Value:
func (e *Engine) String() string {
	if e == nil {
		return "UNSET"
	}
	return string(*e)
}

func (e *Engine) Set(s string) error {
	switch Engine(s) {
	case EngineStep, EngineStreaming:
		*e = Engine(s)
		return nil
	default:
		return fmt.Errorf("unknown engine %q (expected %q or %q)", s, EngineStep, EngineStreaming)
	}
}

func (e *Engine) Type() string {
	return "engine"
}

func main() {
	var stdin io.Reader = os.Stdin
	if isTerminal(os.Stdin) {
		stdin = nil
	}

	err := mainImplementation(stdin, os.Stdout, os.Stderr, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

type options struct {
	capacity int
	poll     time.Duration
	engine   Engine
	input    string
	hasInput bool
	discard  bool
	stats    bool
	json     bool
	progress bool
	metrics  bool
	verbose  bool
}

// mainImplementation runs procpipe with the given `args`. If `stdin`
// is nil, the first command gets an empty stdin.
func mainImplementation(stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	opts := options{
		capacity: cfg.Capacity,
		poll:     cfg.PollInterval,
		progress: isTerminal(stderr),
	}
	if err := opts.engine.Set(cfg.Engine); err != nil {
		return fmt.Errorf("PROCPIPE_ENGINE: %w", err)
	}

	flags := pflag.NewFlagSet("procpipe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	// Everything after the first command name belongs to the
	// commands:
	flags.SetInterspersed(false)

	flags.IntVarP(
		&opts.capacity, "capacity", "c", opts.capacity,
		"maximum number of bytes moved between two commands per step",
	)
	flags.DurationVar(
		&opts.poll, "poll", opts.poll,
		"how long to wait for a command's output on each step (0 to block)",
	)
	flags.Var(&opts.engine, "engine", "how to run the commands: \"step\" or \"streaming\"")
	flags.StringVarP(&opts.input, "input", "i", "", "feed `TEXT` to the first command")
	flags.BoolVar(&opts.discard, "discard", false, "discard the output of the last command")
	flags.BoolVar(&opts.stats, "stats", false, "report the bytes moved by each stage to stderr")
	flags.BoolVarP(&opts.json, "json", "j", false, "report --stats in JSON format")
	flags.BoolVar(&opts.progress, "progress", opts.progress, "report progress to stderr")
	flags.Var(&NegatedBoolValue{&opts.progress}, "no-progress", "suppress progress output")
	flags.Lookup("no-progress").NoOptDefVal = "true"
	flags.BoolVar(&opts.metrics, "metrics", false, "write Prometheus metrics for the run to stderr")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every step to stderr")

	if err := flags.Parse(args); err != nil {
		return err
	}
	opts.hasInput = flags.Changed("input")

	if opts.capacity < 1 {
		return fmt.Errorf("invalid --capacity %d: must be at least 1", opts.capacity)
	}

	commands, err := splitCommands(flags.Args())
	if err != nil {
		return err
	}

	logCfg := logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development}
	if opts.verbose {
		logCfg.Level = "debug"
		logCfg.Development = true
	}
	log, err := logging.New(logCfg, stderr)
	if err != nil {
		return fmt.Errorf("couldn't set up logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if opts.hasInput {
		stdin = strings.NewReader(opts.input)
	}

	switch opts.engine {
	case EngineStreaming:
		return runStreaming(stdin, stdout, opts, commands)
	default:
		return runStepwise(stdin, stdout, stderr, log, opts, commands)
	}
}

// splitCommands splits `args` into commands at "|" arguments.
func splitCommands(args []string) ([]streaming.Argv, error) {
	if len(args) == 0 {
		return nil, errors.New("no commands given")
	}

	var commands []streaming.Argv
	var current streaming.Argv
	for _, arg := range args {
		if arg == "|" {
			if len(current) == 0 {
				return nil, errors.New("empty command in pipeline")
			}
			commands = append(commands, current)
			current = nil
			continue
		}
		current = append(current, arg)
	}
	if len(current) == 0 {
		return nil, errors.New("empty command in pipeline")
	}
	return append(commands, current), nil
}

func runStepwise(
	stdin io.Reader, stdout, stderr io.Writer, log *zap.Logger,
	opts options, commands []streaming.Argv,
) error {
	reg := prometheus.NewRegistry()

	var progress meter.Progress = &meter.NoProgressMeter{}
	if opts.progress {
		progress = meter.NewProgressMeter(stderr, 100*time.Millisecond)
	}

	p := pipe.New(
		opts.capacity,
		pipe.WithLogger(log),
		pipe.WithMetrics(metrics.New(reg)),
		pipe.WithProgress(progress),
	)

	if err := addStages(p, stdin, opts, commands); err != nil {
		_ = p.Close()
		return err
	}

	if opts.discard {
		p.Add(pipe.Discard())
	} else {
		p.Add(pipe.WriterSink(stdout))
	}

	err := p.Run()
	if cErr := p.Close(); err == nil && cErr != nil {
		err = cErr
	}
	if err != nil {
		return err
	}

	if opts.stats {
		if err := writeStats(stderr, p, opts.json); err != nil {
			return err
		}
	}

	if opts.metrics {
		if err := metrics.WriteText(stderr, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	return nil
}

func addStages(
	p *pipe.Processor, stdin io.Reader, opts options, commands []streaming.Argv,
) error {
	switch {
	case opts.hasInput:
		p.Add(pipe.String(opts.input))
	case stdin != nil:
		p.Add(pipe.Reader("stdin", stdin))
	}

	for i, argv := range commands {
		path, err := pipe.LookPath(argv[0])
		if err != nil {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		s, err := pipe.CommandStage(
			argv[0], exec.Command(path, argv[1:]...),
			pipe.WithPollInterval(opts.poll),
		)
		if err != nil {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		if i == 0 && !opts.hasInput && stdin != nil {
			// As in a shell, a first command that stops reading its
			// stdin early is not at fault:
			s = pipe.IgnoreError(s, pipe.IsEPIPE)
		}
		p.Add(s)
	}

	return nil
}

func runStreaming(
	stdin io.Reader, stdout io.Writer, opts options, commands []streaming.Argv,
) error {
	if opts.discard {
		stdout = io.Discard
	}
	if opts.stats || opts.metrics {
		return errors.New("--stats and --metrics are only supported by the step engine")
	}
	return streaming.Run(context.Background(), stdin, stdout, commands...)
}

type statsReport struct {
	RunID    string            `json:"run_id"`
	Capacity int               `json:"capacity"`
	Steps    uint64            `json:"steps"`
	Stages   []pipe.StageStats `json:"stages"`
}

func writeStats(w io.Writer, p *pipe.Processor, asJSON bool) error {
	report := statsReport{
		RunID:    p.RunID().String(),
		Capacity: p.Capacity(),
		Steps:    p.Steps(),
		Stages:   p.Stats(),
	}

	if asJSON {
		s, err := json.MarshalIndent(report, "", "    ")
		if err != nil {
			return fmt.Errorf("could not convert %v to json: %w", report, err)
		}
		_, err = fmt.Fprintf(w, "%s\n", s)
		return err
	}

	width := len("Stage")
	for _, s := range report.Stages {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-*s | %12s\n", width, "Stage", "Bytes")
	fmt.Fprintf(&sb, "%s-+-%s\n", strings.Repeat("-", width), strings.Repeat("-", 12))
	var total []counts.Count64
	for _, s := range report.Stages {
		fmt.Fprintf(&sb, "%-*s | %12s\n", width, s.Name, s.Bytes.Bytes())
		total = append(total, s.Bytes)
	}
	fmt.Fprintf(
		&sb, "%d steps of at most %s; %s moved in total\n",
		report.Steps, counts.NewCount64(uint64(report.Capacity)).Bytes(),
		counts.Sum(total...).Bytes(),
	)

	_, err := io.WriteString(w, sb.String())
	return err
}

func isTerminal(stream interface{}) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
