package kuvert

import "time"

const DefaultMaxAttempts = 3

// Lower priority values are sent first within a batch
const (
	PriorityTransactional = 1
	PriorityNormal        = 5
	PriorityBulk          = 10
)

type Message struct {
	ID string `json:"id" db:"id"`

	Recipient Address `json:"recipient" db:"-"`
	Subject   string  `json:"subject" db:"subject"`
	Text      string  `json:"text" db:"body_text"`
	HTML      string  `json:"html,omitempty" db:"body_html"`
	Kind      Kind    `json:"kind" db:"kind"`
	Priority  int     `json:"priority" db:"priority"`

	Status        Status     `json:"status" db:"status"`
	ScheduledAt   time.Time  `json:"scheduled_at" db:"scheduled_at"`
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts" db:"max_attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`

	CorrelationID string `json:"correlation_id,omitempty" db:"correlation_id"`
	CampaignID    string `json:"campaign_id,omitempty" db:"campaign_id"`
	CampaignName  string `json:"campaign_name,omitempty" db:"campaign_name"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Due reports if the message may be claimed by the processor at the given time
func (m *Message) Due(now time.Time) bool {
	return (m.Status == StatusPending || m.Status == StatusScheduled) &&
		!m.ScheduledAt.After(now) &&
		m.AttemptCount < m.MaxAttempts
}

// LastError is the reason recorded for the latest failed attempt
func (m *Message) LastError() string {
	if m.ErrorMessage == nil {
		return ""
	}
	return *m.ErrorMessage
}
