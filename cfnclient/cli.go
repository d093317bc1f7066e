package cfnclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"

	"github.com/go-logr/logr"
	"github.com/mattn/go-shellwords"
)

const (
	// DefaultCLICommand is the AWS CLI invocation used when none is configured.
	DefaultCLICommand = "aws"

	// DefaultMaxOutput caps the CLI's stdout.
	DefaultMaxOutput = 50000 * 1024

	// DefaultQueryTimeout bounds a single describe-stack-events invocation.
	DefaultQueryTimeout = 60 * time.Second
)

var errOutputTooLarge = errors.New("aws cli output exceeds buffer limit")

// CLIConfig configures the AWS CLI backend.
type CLIConfig struct {
	// Command is the CLI invocation as shell words, e.g. "aws --debug".
	Command   string
	Region    string
	Profile   string
	Timeout   time.Duration
	MaxOutput int
}

// CLIFetcher fetches stack events by running `aws cloudformation describe-stack-events`.
type CLIFetcher struct {
	argv      []string
	region    string
	profile   string
	timeout   time.Duration
	maxOutput int
	log       logr.Logger
}

// NewCLIFetcher validates cfg and returns a fetcher.
func NewCLIFetcher(cfg CLIConfig, log logr.Logger) (*CLIFetcher, error) {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = DefaultCLICommand
	}
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse aws cli command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("aws cli command %q is empty", command)
	}
	f := &CLIFetcher{
		argv:      argv,
		region:    cfg.Region,
		profile:   cfg.Profile,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
		log:       log,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultQueryTimeout
	}
	if f.maxOutput <= 0 {
		f.maxOutput = DefaultMaxOutput
	}
	return f, nil
}

// Args returns the argv used to query stack.
func (f *CLIFetcher) Args(stack string) []string {
	args := append([]string{}, f.argv[1:]...)
	args = append(args, "cloudformation", "describe-stack-events", "--stack-name", stack, "--output", "json")
	if f.region != "" {
		args = append(args, "--region", f.region)
	}
	if f.profile != "" {
		args = append(args, "--profile", f.profile)
	}
	return args
}

type describeStackEventsOutput struct {
	StackEvents []analyzer.StackEvent `json:"StackEvents"`
}

// FetchEvents runs the CLI once for stack and decodes its JSON output.
func (f *CLIFetcher) FetchEvents(ctx context.Context, stack string) ([]analyzer.StackEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := f.Args(stack)
	stdout := &cappedBuffer{limit: f.maxOutput}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.argv[0], args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	started := time.Now()
	f.log.V(1).Info("running aws cli", "stack", stack, "command", f.argv[0], "args", args)
	err := cmd.Run()
	f.log.V(1).Info("aws cli finished", "stack", stack, "duration", time.Since(started), "bytes", stdout.Len())

	if stdout.overflow {
		if err == nil {
			err = errOutputTooLarge
		} else if !errors.Is(err, errOutputTooLarge) {
			err = fmt.Errorf("%w: %v", errOutputTooLarge, err)
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, &awserrors.ProviderQueryError{
			Stack:  stack,
			Err:    err,
			Stderr: stderr.String(),
			AWS:    awserrors.ParseCLIError(stderr.String(), "CloudFormation"),
		}
	}

	var out describeStackEventsOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &awserrors.ProviderQueryError{
			Stack:  stack,
			Err:    fmt.Errorf("decode describe-stack-events output: %w", err),
			Stderr: stderr.String(),
		}
	}
	return out.StackEvents, nil
}

// cappedBuffer collects output up to limit bytes and refuses writes beyond it.
// The buffer is a named field so io.Copy cannot bypass Write through ReadFrom.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		b.overflow = true
		return 0, errOutputTooLarge
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Len() int { return b.buf.Len() }

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }
