package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	goRecover "github.com/MrEthical07/goRecover"
)

// SMTPConfig addresses a mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPEmail sends email deliveries through an SMTP relay with PLAIN auth.
type SMTPEmail struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

func NewSMTPEmail(cfg SMTPConfig) (*SMTPEmail, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("notify: smtp host and from address must be provided")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPEmail{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

func (s *SMTPEmail) Send(ctx context.Context, d goRecover.Delivery) error {
	if d.To.Method != goRecover.MethodEmail {
		return fmt.Errorf("%w: smtp sends email only", ErrNoChannel)
	}
	if strings.ContainsAny(d.To.Value, "\r\n") {
		return fmt.Errorf("notify: invalid recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{d.To.Value}, s.message(d)); err != nil {
		return fmt.Errorf("notify: smtp send: %w", err)
	}
	return nil
}

func (s *SMTPEmail) message(d goRecover.Delivery) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + d.To.Value + "\r\n")
	b.WriteString("Subject: " + Subject(d) + "\r\n")
	b.WriteString("Date: " + s.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(Body(d) + "\r\n")
	return []byte(b.String())
}
