package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/config"
	"github.com/modfin/kuvert/tools"
)

// ErrUnavailable is returned by every send on a transport that is not configured
var ErrUnavailable = errors.New("mail transport is unavailable")

// Envelope is a rendered message ready for delivery
type Envelope struct {
	ID      string
	To      kuvert.Address
	Subject string
	Text    string
	HTML    string
}

func EnvelopeOf(m kuvert.Message) Envelope {
	return Envelope{
		ID:      m.ID,
		To:      m.Recipient,
		Subject: m.Subject,
		Text:    m.Text,
		HTML:    m.HTML,
	}
}

// Transport delivers a single message. Any non nil error is treated as a retryable failure.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// Func adapts a plain function to a Transport
type Func func(ctx context.Context, env Envelope) error

func (f Func) Send(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

type unavailable struct {
	reason string
}

// Unavailable fails every send with ErrUnavailable
func Unavailable(reason string) Transport {
	return unavailable{reason: reason}
}

func (u unavailable) Send(_ context.Context, _ Envelope) error {
	if len(u.reason) == 0 {
		return ErrUnavailable
	}
	return fmt.Errorf("%w, %s", ErrUnavailable, u.reason)
}

type logTransport struct {
	log *logrus.Logger
}

// Log accepts every message and only writes it to the log
func Log(lc *tools.Logger) Transport {
	return logTransport{log: lc.New("transport-log")}
}

func (l logTransport) Send(_ context.Context, env Envelope) error {
	l.log.WithFields(logrus.Fields{
		"mid":     env.ID,
		"to":      env.To.String(),
		"subject": env.Subject,
		"text":    len(env.Text),
		"html":    len(env.HTML),
	}).Info("message accepted by log transport")
	return nil
}

// FromConfig picks the transport selected by KUVERT_TRANSPORT. A smtp transport
// without a host degrades to Unavailable so messages still reach a terminal state.
func FromConfig(cfg *config.Config, lc *tools.Logger) Transport {
	log := lc.New("transport")
	switch strings.ToLower(cfg.Transport) {
	case "log":
		log.Info("using log transport")
		return Log(lc)
	case "none":
		log.Warn("transport disabled, all sends will fail")
		return Unavailable("disabled by configuration")
	}

	if len(cfg.SMTPHost) == 0 {
		log.Warn("no smtp host configured, all sends will fail")
		return Unavailable("no smtp host configured")
	}
	log.WithField("host", cfg.SMTPHost).WithField("port", cfg.SMTPPort).Info("using smtp transport")
	return NewSMTP(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	}, lc)
}
