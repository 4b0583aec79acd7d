package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
	"go.uber.org/zap"
)

// ErrNoChannel is returned by Router when no sender is configured for the
// delivery's method.
var ErrNoChannel = errors.New("notify: no sender for method")

// Router sends email deliveries through Email and phone deliveries through
// SMS.
type Router struct {
	Email goRecover.Notifier
	SMS   goRecover.Notifier
}

func (r Router) Send(ctx context.Context, d goRecover.Delivery) error {
	var n goRecover.Notifier
	switch d.To.Method {
	case goRecover.MethodEmail:
		n = r.Email
	case goRecover.MethodPhone:
		n = r.SMS
	}
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNoChannel, d.To.Method)
	}
	return n.Send(ctx, d)
}

// Subject is the email subject line for d.
func Subject(d goRecover.Delivery) string {
	if d.Purpose == goRecover.PurposeVerification {
		return "Verify your email address"
	}
	return "Your password reset code"
}

// Body renders the message text for d.
func Body(d goRecover.Delivery) string {
	expires := minutes(d.ExpiresIn)
	if d.Purpose == goRecover.PurposeVerification {
		return fmt.Sprintf("Your verification code is %s. It expires in %s.", d.Code, expires)
	}
	return fmt.Sprintf("Your password reset code is %s. It expires in %s. If you did not ask for it, ignore this message.", d.Code, expires)
}

func minutes(d time.Duration) string {
	m := int(d / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}

// Log writes deliveries to a zap logger instead of sending them. The code
// is only logged when RevealCode is set.
type Log struct {
	Logger     *zap.Logger
	RevealCode bool
}

func (l Log) Send(_ context.Context, d goRecover.Delivery) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("purpose", d.Purpose),
		zap.String("method", d.To.Method.String()),
		zap.String("to", goRecover.DescribeDestination(d.To)),
		zap.Duration("expires_in", d.ExpiresIn),
	}
	if l.RevealCode {
		fields = append(fields, zap.String("code", d.Code))
	}
	logger.Info("code delivery", fields...)
	return nil
}
