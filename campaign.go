package kuvert

import "time"

type CampaignStatus string

func (s CampaignStatus) String() string {
	return string(s)
}

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Audience selects which registrations a campaign is sent to
type Audience string

const (
	AudienceAll        Audience = "all"
	AudienceIndividual Audience = "individual"
	AudienceTeam       Audience = "team"
	AudienceRecent     Audience = "recent" // registered during the last 7 days
)

var Audiences = []Audience{AudienceAll, AudienceIndividual, AudienceTeam, AudienceRecent}

func (a Audience) Valid() bool {
	for _, aa := range Audiences {
		if a == aa {
			return true
		}
	}
	return false
}

// Campaign describes a bulk send. It holds no messages itself, sending it
// expands it into one Message per recipient tagged with the campaign id.
type Campaign struct {
	ID       string   `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	Subject  string   `json:"subject" db:"subject"`
	Text     string   `json:"text" db:"body_text"`
	HTML     string   `json:"html,omitempty" db:"body_html"`
	Audience Audience `json:"audience" db:"audience"`

	Status      CampaignStatus `json:"status" db:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`

	Recipients int `json:"recipients" db:"recipients"`
	Queued     int `json:"queued" db:"queued"`
	Failed     int `json:"failed" db:"failed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// Sendable is true while the campaign has not yet been expanded
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}
