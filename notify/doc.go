// Package notify delivers recovery and verification codes.
//
// Every sender implements goRecover.Notifier. [Router] picks the email or
// SMS sender from the delivery's method; [Log] writes deliveries to a zap
// logger for development. Message bodies come from [Body] so all channels
// say the same thing.
package notify
