package dao

import (
	"time"

	"github.com/modfin/kuvert"
)

type MessageFilter struct {
	Status        kuvert.Status
	CampaignID    string
	Kind          kuvert.Kind
	CorrelationID string

	Offset int
	Limit  int
}

type CampaignFilter struct {
	Status kuvert.CampaignStatus
	Offset int
	Limit  int
}

type RegistrationFilter struct {
	ID    string
	Type  kuvert.RegistrationType // empty means all types
	Since *time.Time
}

type LogEntry struct {
	ID        int64     `json:"-" db:"id"`
	MessageID string    `json:"message_id" db:"message_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Log       string    `json:"log" db:"log"`
}

// messageRow flattens the recipient of a message into columns
type messageRow struct {
	kuvert.Message
	RecipientName  string `db:"recipient_name"`
	RecipientEmail string `db:"recipient_email"`
}

func (r messageRow) message() kuvert.Message {
	m := r.Message
	m.Recipient = kuvert.Address{Name: r.RecipientName, Email: r.RecipientEmail}
	m.ScheduledAt = m.ScheduledAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.LastAttemptAt = utc(m.LastAttemptAt)
	m.SentAt = utc(m.SentAt)
	return m
}

func toMessages(rows []messageRow) []kuvert.Message {
	res := make([]kuvert.Message, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.message())
	}
	return res
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
