package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/modfin/kuvert/tools"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type SMTP struct {
	cfg  SMTPConfig
	from string
	log  *logrus.Logger

	send func(ctx context.Context, m ...*gomail.Message) error
}

func NewSMTP(cfg SMTPConfig, lc *tools.Logger) *SMTP {
	from := cfg.From
	if len(from) == 0 {
		from, _ = tools.SystemUri()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &SMTP{
		cfg:  cfg,
		from: from,
		log:  lc.New("transport-smtp"),
	}
	s.send = s.dialAndSend
	return s
}

func (s *SMTP) message(env Envelope) *gomail.Message {
	m := gomail.NewMessage()
	if len(env.ID) > 0 {
		domain, err := tools.DomainOfEmail(s.from)
		if err != nil {
			domain = "localhost"
		}
		m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", env.ID, domain))
	}
	m.SetHeader("From", s.from)
	m.SetAddressHeader("To", env.To.Email, env.To.Name)
	m.SetHeader("Subject", env.Subject)

	switch {
	case len(env.Text) > 0 && len(env.HTML) > 0:
		m.SetBody("text/plain", env.Text)
		m.AddAlternative("text/html", env.HTML)
	case len(env.HTML) > 0:
		m.SetBody("text/html", env.HTML)
	default:
		m.SetBody("text/plain", env.Text)
	}
	return m
}

// Send delivers the message to the relay, giving up after the configured timeout
func (s *SMTP) Send(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	err := s.send(ctx, s.message(env))
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("smtp delivery to %s aborted, %v, %w", env.To.Email, err, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("smtp delivery to %s failed, %w", env.To.Email, err)
	}
	s.log.WithField("mid", env.ID).Debug("message delivered to relay")
	return nil
}

// dialAndSend is gomail's DialAndSend with the connection bound to ctx. Once ctx is done
// every pending read or write on the connection fails, so a stalled relay can not keep
// the call running after Send has given up.
func (s *SMTP) dialAndSend(ctx context.Context, msgs ...*gomail.Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && s.cfg.Port != 465 {
		if err := c.StartTLS(tlsConfig); err != nil {
			return err
		}
	}
	if len(s.cfg.Username) > 0 {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return err
			}
		}
	}

	err = gomail.Send(gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := msg.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}), msgs...)
	if err != nil {
		return err
	}
	return c.Quit()
}
