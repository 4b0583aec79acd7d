package main

import (
	"context"
	"errors"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/spf13/cobra"
)

func runVerifyEmail(cmd *cobra.Command, opts *cliOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPrompter(cmd)

	var email string
	if len(args) == 1 {
		email = args[0]
	} else {
		var err error
		if email, err = p.ask("Email: "); err != nil {
			return err
		}
	}

	vs := goRecover.NewVerificationSession(opts.client(), email, goRecover.WithSessionLogger(opts.logger().Named("verification")))
	defer vs.Close()

	if err := vs.Start(ctx); err != nil {
		if msg := vs.Snapshot().ErrorMessage; msg != "" {
			p.say("%s", msg)
		}
		return err
	}
	p.say("%s", vs.Snapshot().Info)

	for vs.Snapshot().Step != goRecover.Verified {
		answer, err := p.ask("Code (or \"resend\"): ")
		if err != nil {
			return err
		}
		if strings.EqualFold(answer, "resend") {
			err = vs.Resend(ctx)
			if errors.Is(err, goRecover.ErrResendCooldown) {
				p.say("You can resend in %ds.", vs.Snapshot().Cooldown)
				continue
			}
		} else {
			err = vs.SubmitCode(ctx, answer)
		}

		snap := vs.Snapshot()
		switch {
		case snap.ErrorMessage != "":
			p.say("%s", snap.ErrorMessage)
		case err != nil:
			p.say("%v", err)
		case snap.Info != "":
			p.say("%s", snap.Info)
		}
	}
	p.say("Your email address is verified.")
	return nil
}
