package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/MrEthical07/goRecover/httpgateway"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cliOptions struct {
	server string
	debug  bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "gorecover",
		Short:         "Recover a password or verify an email against a gorecover server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "gorecover-server base URL")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "log session events to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "reset",
			Short: "Reset a password interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runReset(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "verify-email [email]",
			Short: "Verify ownership of an email address",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runVerifyEmail(cmd, opts, args)
			},
		},
		&cobra.Command{
			Use:   "strength [password]",
			Short: "Print the strength score (0-4) of a password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStrength(cmd.OutOrStdout(), args[0])
			},
		},
	)
	return root
}

func (o *cliOptions) logger() *zap.Logger {
	if !o.debug {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *cliOptions) client() *httpgateway.Client {
	return httpgateway.New(o.server, httpgateway.WithLogger(o.logger().Named("http")))
}

func runStrength(w io.Writer, password string) error {
	score := goRecover.PasswordStrength(password)
	verdict := "weak"
	if goRecover.IsStrongEnough(password) {
		verdict = "strong enough"
	}
	_, err := fmt.Fprintf(w, "%d/%d (%s)\n", score, goRecover.MaxPasswordStrength, verdict)
	return err
}

// prompter reads one trimmed line per question.
type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *prompter) say(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}
