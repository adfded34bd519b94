package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/content"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/tools"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, to kuvert.Address, c queue.Content, kind kuvert.Kind, correlationID string) (*kuvert.Message, error)
}

type Config struct {
	Admin    kuvert.Address // no admin notifications are sent if the email is empty
	AdminURL string
}

// Notifier turns registration events into rendered messages on the queue
type Notifier struct {
	queue   Enqueuer
	content *content.SafeGenerator
	cfg     Config
	log     *logrus.Logger
}

func New(cfg Config, q Enqueuer, gen *content.SafeGenerator, lc *tools.Logger) *Notifier {
	return &Notifier{
		queue:   q,
		content: gen,
		cfg:     cfg,
		log:     lc.New("notify"),
	}
}

func (n *Notifier) enqueue(ctx context.Context, to kuvert.Address, kind kuvert.Kind, data content.Data) (*kuvert.Message, error) {
	data.Recipient = to
	r := n.content.Generate(kind, data)
	m, err := n.queue.Enqueue(ctx, to, queue.Content{Subject: r.Subject, Text: r.Text, HTML: r.HTML}, kind, data.Registration.ID)
	if err != nil {
		return nil, fmt.Errorf("could not enqueue %s for registration %s, %w", kind, data.Registration.ID, err)
	}
	return m, nil
}

// RegistrationCreated confirms the registration to its contact, the leader for teams, and
// tells the admin about it
func (n *Notifier) RegistrationCreated(ctx context.Context, reg kuvert.Registration) ([]*kuvert.Message, error) {
	data := content.Data{Registration: reg, Status: reg.Status}

	confirm, err := n.enqueue(ctx, reg.Contact(), kuvert.KindRegistrationConfirmation, data)
	if err != nil {
		return nil, err
	}
	msgs := []*kuvert.Message{confirm}

	if len(n.cfg.Admin.Email) == 0 {
		return msgs, nil
	}
	if len(n.cfg.AdminURL) > 0 {
		data.AdminURL = strings.TrimRight(n.cfg.AdminURL, "/") + "/" + reg.ID
	}
	admin, err := n.enqueue(ctx, n.cfg.Admin, kuvert.KindAdminNotification, data)
	if err != nil {
		return msgs, err
	}
	return append(msgs, admin), nil
}

// StatusChanged notifies the registration contact about approvals, cancellations and
// rejections. Other statuses return a nil message.
func (n *Notifier) StatusChanged(ctx context.Context, reg kuvert.Registration, status string, reason string) (*kuvert.Message, error) {
	var kind kuvert.Kind
	switch strings.ToLower(status) {
	case "approved":
		kind = kuvert.KindApproval
	case "cancelled", "rejected":
		kind = kuvert.KindCancellation
	default:
		n.log.WithField("status", status).WithField("registration", reg.ID).Debug("no notification for status")
		return nil, nil
	}
	return n.enqueue(ctx, reg.Contact(), kind, content.Data{Registration: reg, Status: strings.ToLower(status), Reason: reason})
}
