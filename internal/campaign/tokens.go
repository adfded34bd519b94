package campaign

import (
	"html"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/modfin/kuvert"
)

// Recipient is a resolved campaign receiver along with the registration it was resolved from
type Recipient struct {
	Address      kuvert.Address
	Registration kuvert.Registration
}

func (r Recipient) tokens() map[string]string {
	reg := r.Registration
	return map[string]string{
		"name":              r.Address.Name,
		"first_name":        r.Address.FirstName(),
		"email":             r.Address.Email,
		"team_name":         reg.TeamName,
		"registration_date": reg.CreatedAt.UTC().Format("2006-01-02"),
		"reference":         reg.Reference,
		"plan":              reg.PlanName,
	}
}

// Personalize replaces {{token}} tags with the recipient's values, unknown tags are kept as is
func Personalize(template string, r Recipient) string {
	return personalize(template, r, func(s string) string { return s })
}

// PersonalizeHTML is Personalize with the values html escaped
func PersonalizeHTML(template string, r Recipient) string {
	return personalize(template, r, html.EscapeString)
}

func personalize(template string, r Recipient, escape func(string) string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	values := r.tokens()
	return fasttemplate.ExecuteFuncString(template, "{{", "}}", func(w io.Writer, tag string) (int, error) {
		v, ok := values[strings.TrimSpace(tag)]
		if !ok {
			return w.Write([]byte("{{" + tag + "}}"))
		}
		return w.Write([]byte(escape(v)))
	})
}
