package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultThreshold = 0.30

var errRegression = errors.New("performance regression threshold exceeded")

type gateOptions struct {
	baseline  string
	candidate string
	threshold float64
	track     []string
	debug     bool
}

func newRootCmd() *cobra.Command {
	opts := &gateOptions{}
	cmd := &cobra.Command{
		Use:           "gorecover-benchgate",
		Short:         "Fail when tracked benchmarks regress",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := runGate(cmd, opts)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.baseline, "baseline", "", "path to baseline benchmark output")
	cmd.Flags().StringVar(&opts.candidate, "candidate", "", "path to candidate benchmark output")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", defaultThreshold, "maximum allowed regression ratio (0.30 = +30%)")
	cmd.Flags().StringArrayVar(&opts.track, "track", nil, "benchmark to track as Name:unit[,unit]; repeatable")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "log parsing details")
	_ = cmd.MarkFlagRequired("baseline")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func runGate(cmd *cobra.Command, opts *gateOptions) error {
	if opts.threshold < 0 {
		return errors.New("--threshold must be >= 0")
	}
	logger := zap.NewNop()
	if opts.debug {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	tracked, err := parseTracked(opts.track)
	if err != nil {
		return err
	}
	baseline, err := parseFile(opts.baseline, tracked)
	if err != nil {
		return fmt.Errorf("parse baseline: %w", err)
	}
	candidate, err := parseFile(opts.candidate, tracked)
	if err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	logger.Debug("parsed benchmark outputs",
		zap.Int("baseline_benchmarks", len(baseline)),
		zap.Int("candidate_benchmarks", len(candidate)),
	)

	rep := compare(baseline, candidate, tracked, opts.threshold)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "perf regression check:")
	fmt.Fprintln(out, "benchmark unit baseline candidate delta")
	for _, r := range rep.Rows {
		fmt.Fprintf(out, "%s %s %.3f %.3f %+0.2f%%\n", r.Benchmark, r.Unit, r.Baseline, r.Candidate, r.Delta*100)
	}

	if len(rep.Failures) > 0 {
		errOut := cmd.ErrOrStderr()
		for _, f := range rep.Failures {
			fmt.Fprintf(errOut, "  - %s\n", f)
		}
		return errRegression
	}
	return nil
}

func parseFile(path string, tracked map[string][]string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBenchmarks(f, tracked)
}
