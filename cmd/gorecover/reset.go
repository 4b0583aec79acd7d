package main

import (
	"context"
	"errors"
	"strings"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/spf13/cobra"
)

// runReset drives a Session from the terminal. At the code prompt, "resend"
// asks for a new code and "change" goes back to the identifier. At the
// password prompt, "back" returns to the code.
func runReset(cmd *cobra.Command, opts *cliOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPrompter(cmd)
	s := goRecover.NewSession(opts.client(), goRecover.WithSessionLogger(opts.logger().Named("session")))
	defer s.Close()

	for {
		snap := s.Snapshot()
		var err error
		switch st := snap.Step.(type) {
		case goRecover.EnterIdentifier:
			err = identifierStep(ctx, p, s, st.Method)
		case goRecover.EnterOtp:
			err = otpStep(ctx, p, s)
		case goRecover.SetNewPassword:
			err = passwordStep(ctx, p, s)
		case goRecover.Complete:
			p.say("Your password has been updated.")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func identifierStep(ctx context.Context, p *prompter, s *goRecover.Session, m goRecover.Method) error {
	label := "Email"
	if m == goRecover.MethodPhone {
		label = "Phone (with country code)"
	}
	answer, err := p.ask(label + " (or \"switch\"): ")
	if err != nil {
		return err
	}
	if answer == "switch" {
		next := goRecover.MethodPhone
		if m == goRecover.MethodPhone {
			next = goRecover.MethodEmail
		}
		return s.SwitchMethod(next)
	}

	report(p, s, s.SubmitIdentifier(ctx, answer))
	return nil
}

func otpStep(ctx context.Context, p *prompter, s *goRecover.Session) error {
	answer, err := p.ask("Code (or \"resend\", \"change\"): ")
	if err != nil {
		return err
	}
	switch strings.ToLower(answer) {
	case "resend":
		err := s.Resend(ctx)
		if errors.Is(err, goRecover.ErrResendCooldown) {
			p.say("You can resend in %ds.", s.Snapshot().Cooldown)
			return nil
		}
		report(p, s, err)
	case "change":
		return s.ChangeIdentifier()
	default:
		report(p, s, s.SubmitOTP(ctx, answer))
	}
	return nil
}

func passwordStep(ctx context.Context, p *prompter, s *goRecover.Session) error {
	pw, err := p.ask("New password (or \"back\"): ")
	if err != nil {
		return err
	}
	if pw == "back" {
		return s.Back()
	}
	confirm, err := p.ask("Confirm password: ")
	if err != nil {
		return err
	}
	check := s.EvaluatePassword(pw, confirm)
	p.say("Strength: %d/%d", check.Score, goRecover.MaxPasswordStrength)

	report(p, s, s.SubmitPassword(ctx, pw, confirm))
	return nil
}

// report prints the session messages after an operation. Guard errors have
// no user message and are printed as is.
func report(p *prompter, s *goRecover.Session, err error) {
	snap := s.Snapshot()
	switch {
	case snap.ErrorMessage != "":
		p.say("%s", snap.ErrorMessage)
	case err != nil:
		p.say("%v", err)
	case snap.Info != "":
		p.say("%s", snap.Info)
	}
}
