package kuvert

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/flashmob/go-guerrilla/mail/rfc5321"
)

func AddressOf(email string) Address {
	return Address{Email: email}
}

type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

// Valid checks the address both with net/mail and the stricter rfc 5321 parser
// used by the smtp server, a message rejected by either would never be delivered.
func (a Address) Valid() error {
	email := strings.TrimSpace(a.Email)
	if len(email) == 0 {
		return errors.New("email address is empty")
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("could not parse %s, %w", email, err)
	}
	if parsed.Address != email {
		return fmt.Errorf("%s is not a bare email address", email)
	}

	var p rfc5321.RFC5322
	list, err := p.Address([]byte(email))
	if err != nil {
		return fmt.Errorf("%s is not a valid rfc 5321 address, %w", email, err)
	}
	if len(list.List) != 1 {
		return fmt.Errorf("%s must contain exactly one address", email)
	}
	return nil
}

// FirstName returns the first word of the display name
func (a Address) FirstName() string {
	name, _, _ := strings.Cut(strings.TrimSpace(a.Name), " ")
	return name
}
