package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/awserrors"
	"cfn-failing-stacks/cfnclient"
	"cfn-failing-stacks/cloudtrail"
	"cfn-failing-stacks/collector"
	"cfn-failing-stacks/correlator"
	"cfn-failing-stacks/formatter"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	cancel()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, deps deps) int {
	cmd := newRootCommand(deps)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return awserrors.ExitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return awserrors.ExitCode(err)
}

// deps are the collaborators a run needs; tests replace them.
type deps struct {
	now        func() time.Time
	newFetcher func(ctx context.Context, s settings, log logr.Logger) (cfnclient.EventFetcher, error)
	newTrail   func(ctx context.Context, s settings) (correlator.TrailSearcher, error)
}

func defaultDeps() deps {
	return deps{
		now:        time.Now,
		newFetcher: newFetcher,
		newTrail:   newTrailSearcher,
	}
}

// newFetcher builds the Event Fetcher for the configured provider.
func newFetcher(ctx context.Context, s settings, log logr.Logger) (cfnclient.EventFetcher, error) {
	switch s.Provider {
	case providerCLI:
		return cfnclient.NewCLIFetcher(cfnclient.CLIConfig{
			Command: s.AWSCLI,
			Region:  s.Region,
			Profile: s.Profile,
			Timeout: s.QueryTimeout,
		}, log.WithName("aws-cli"))
	case providerSDK:
		client, err := cfnclient.NewClient(ctx, cfnclient.Options{Region: s.Region, Profile: s.Profile, Timeout: s.QueryTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize CloudFormation client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (expected %s or %s)", awserrors.ErrUsage, s.Provider, providerCLI, providerSDK)
	}
}

func newTrailSearcher(ctx context.Context, s settings) (correlator.TrailSearcher, error) {
	cfg, err := cfnclient.LoadConfig(ctx, cfnclient.Options{Region: s.Region, Profile: s.Profile})
	if err != nil {
		return nil, err
	}
	return cloudtrail.NewClientWithConfig(cfg), nil
}

// run executes one search and prints the report.
func run(ctx context.Context, stackName string, window analyzer.TimeWindow, s settings, deps deps, stdout, stderr io.Writer, log logr.Logger) error {
	fmt.Fprintf(stderr, "Finding failing stack events between %s and %s for stack %s\n",
		window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339), stackName)

	fetcher, err := deps.newFetcher(ctx, s, log)
	if err != nil {
		return err
	}

	progress := func(stack string) {
		fmt.Fprintf(stderr, "\tgetting events for %s...\n", stack)
	}
	if s.Quiet {
		progress = nil
	}

	c := collector.New(fetcher, collector.Config{
		Concurrency: s.Concurrency,
		NestedOnly:  s.NestedOnly,
		Progress:    progress,
	}, log.WithName("collector"))

	started := deps.now()
	failures, err := c.CollectFailures(ctx, stackName, window)
	if err != nil {
		return err
	}
	log.V(1).Info("collected failures", "stack", stackName, "failures", len(failures), "duration", deps.now().Sub(started))

	if s.CloudTrail && len(failures) > 0 {
		trail, err := deps.newTrail(ctx, s)
		if err != nil {
			log.Error(err, "cloudtrail enrichment disabled")
		} else {
			summary := correlator.Enrich(ctx, trail, failures, log.WithName("cloudtrail"))
			log.V(1).Info("cloudtrail enrichment", "generalServiceExceptions", summary.GeneralServiceExceptions, "matched", summary.WithCloudTrail)
		}
	}

	report := analyzer.Report{
		StackName:   stackName,
		Window:      window,
		GeneratedAt: deps.now(),
		Events:      failures,
	}
	return formatter.Render(stdout, report, formatter.Options{Format: s.Output, Color: s.Color})
}
