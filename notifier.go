package goRecover

import (
	"context"
	"time"
)

// Code purposes. They also namespace the challenge store.
const (
	PurposeRecovery     = "recovery"
	PurposeVerification = "verify"
)

// Delivery is one code on its way to a user. Code is plaintext; notifiers
// must not log it.
type Delivery struct {
	UserID    string
	Purpose   string
	To        Identifier
	Code      string
	ExpiresIn time.Duration
}

// Notifier delivers codes. Implementations live in the notify package.
type Notifier interface {
	Send(ctx context.Context, d Delivery) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, d Delivery) error

func (f NotifierFunc) Send(ctx context.Context, d Delivery) error { return f(ctx, d) }
