package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	goRecover "github.com/MrEthical07/goRecover"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// messageCreator is the part of the Twilio API the SMS sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts configures a TwilioSMS sender.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	Logger     *zap.Logger
}

// TwilioOption sets one TwilioOpts field.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

func WithTwilioLogger(logger *zap.Logger) TwilioOption {
	return func(o *TwilioOpts) { o.Logger = logger }
}

// TwilioSMS sends phone deliveries as SMS through the Twilio REST API.
type TwilioSMS struct {
	api    messageCreator
	from   string
	logger *zap.Logger
}

// NewTwilioSMS builds a sender. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioSMS(opts ...TwilioOption) (*TwilioSMS, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("notify: twilio account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: twilio from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSMS(client.Api, cfg.From, cfg.Logger), nil
}

func newTwilioSMS(api messageCreator, from string, logger *zap.Logger) *TwilioSMS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioSMS{api: api, from: from, logger: logger}
}

func (s *TwilioSMS) Send(ctx context.Context, d goRecover.Delivery) error {
	if d.To.Method != goRecover.MethodPhone {
		return fmt.Errorf("%w: twilio sends phone only", ErrNoChannel)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(d.To.Value)
	params.SetFrom(s.from)
	params.SetBody(Body(d))

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.Warn("twilio send failed", zap.String("to", goRecover.MaskPhone(d.To.Value)), zap.Error(err))
		return fmt.Errorf("notify: twilio send to %s: %w", goRecover.MaskPhone(d.To.Value), err)
	}

	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	s.logger.Debug("twilio message sent", zap.String("to", goRecover.MaskPhone(d.To.Value)), zap.String("sid", sid))
	return nil
}
