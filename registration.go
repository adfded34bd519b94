package kuvert

import "time"

type RegistrationType string

const (
	RegistrationIndividual RegistrationType = "individual"
	RegistrationTeam       RegistrationType = "team"
)

// Registration is the read-only view of a sign-up as persisted by the registration application.
type Registration struct {
	ID        string           `json:"id" db:"id"`
	Reference string           `json:"reference" db:"reference"`
	Type      RegistrationType `json:"type" db:"type"`
	Name      string           `json:"name" db:"name"`
	Email     string           `json:"email" db:"email"`
	PlanName  string           `json:"plan_name" db:"plan_name"`
	TeamName  string           `json:"team_name,omitempty" db:"team_name"`
	Status    string           `json:"status" db:"status"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`

	Members []TeamMember `json:"members,omitempty"`
}

type TeamMember struct {
	RegistrationID string `json:"-" db:"registration_id"`
	Name           string `json:"name" db:"name"`
	Email          string `json:"email" db:"email"`
	Leader         bool   `json:"leader" db:"leader"`
}

// Contact returns who should receive mail about the registration. For teams
// that is the designated leader, falling back on the registration contact.
func (r Registration) Contact() Address {
	if r.Type == RegistrationTeam {
		for _, m := range r.Members {
			if m.Leader && len(m.Email) > 0 {
				return Address{Name: m.Name, Email: m.Email}
			}
		}
	}
	return Address{Name: r.Name, Email: r.Email}
}
