package content

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htemplate "html/template"
	"strings"
	ttemplate "text/template"

	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/tools"
)

//go:embed templates/*.txt templates/*.html
var templates embed.FS

var ErrNoTemplate = errors.New("no template for kind")

// Data is the business context a notification is rendered from
type Data struct {
	Recipient    kuvert.Address
	Registration kuvert.Registration
	Status       string
	Reason       string
	AdminURL     string
}

func (d Data) Greeting() string {
	name := d.Recipient.FirstName()
	if len(name) == 0 {
		return "there"
	}
	return name
}

type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type Renderer interface {
	Render(kind kuvert.Kind, data Data) (Rendered, error)
}

type RendererFunc func(kind kuvert.Kind, data Data) (Rendered, error)

func (f RendererFunc) Render(kind kuvert.Kind, data Data) (Rendered, error) {
	return f(kind, data)
}

// Generator renders the embedded templates. Every kind except campaign has a
// subject and text template, html is optional.
type Generator struct {
	text *ttemplate.Template
	html *htemplate.Template
}

func New() (*Generator, error) {
	text, err := ttemplate.New("text").Option("missingkey=error").ParseFS(templates, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("could not parse text templates, %w", err)
	}
	html, err := htemplate.New("html").Option("missingkey=error").ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("could not parse html templates, %w", err)
	}
	return &Generator{text: text, html: html}, nil
}

func (g *Generator) Render(kind kuvert.Kind, data Data) (Rendered, error) {
	var r Rendered
	subject := g.text.Lookup(kind.String() + ".subject")
	text := g.text.Lookup(kind.String() + ".text")
	if subject == nil || text == nil {
		return r, fmt.Errorf("%w %s", ErrNoTemplate, kind)
	}

	buf := &bytes.Buffer{}
	if err := subject.Execute(buf, data); err != nil {
		return r, fmt.Errorf("could not render subject of %s, %w", kind, err)
	}
	r.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := text.Execute(buf, data); err != nil {
		return r, fmt.Errorf("could not render text of %s, %w", kind, err)
	}
	r.Text = buf.String()

	if html := g.html.Lookup(kind.String() + ".html"); html != nil {
		buf.Reset()
		if err := html.Execute(buf, data); err != nil {
			return r, fmt.Errorf("could not render html of %s, %w", kind, err)
		}
		r.HTML = buf.String()
	}

	if len(r.Subject) == 0 || len(strings.TrimSpace(r.Text)) == 0 {
		return r, fmt.Errorf("template for %s rendered empty content", kind)
	}
	return r, nil
}

// Safe wraps a renderer so that generation never fails
func Safe(r Renderer, lc *tools.Logger) *SafeGenerator {
	return &SafeGenerator{
		renderer: r,
		log:      lc.New("content"),
	}
}

type SafeGenerator struct {
	renderer Renderer
	log      *logrus.Logger
}

// Generate renders the kind, falling back to a minimal plain text message if rendering
// fails or panics
func (s *SafeGenerator) Generate(kind kuvert.Kind, data Data) (r Rendered) {
	defer func() {
		if p := recover(); p != nil {
			s.log.WithField("kind", kind).Errorf("renderer panicked, %v, using fallback content", p)
			r = Fallback(kind, data)
		}
	}()

	if s.renderer == nil {
		return Fallback(kind, data)
	}
	r, err := s.renderer.Render(kind, data)
	if err != nil {
		s.log.WithError(err).WithField("kind", kind).Warn("could not render content, using fallback")
		return Fallback(kind, data)
	}
	return r
}

// Fallback produces a plain message with the essential facts of the registration
func Fallback(kind kuvert.Kind, data Data) Rendered {
	reg := data.Registration
	ref := reg.Reference
	if len(ref) == 0 {
		ref = reg.ID
	}
	name := data.Recipient.Name
	if len(name) == 0 {
		name = reg.Name
	}
	if len(name) == 0 {
		name = data.Recipient.Email
	}

	var subject, line string
	switch kind {
	case kuvert.KindApproval:
		subject = fmt.Sprintf("Registration %s approved", ref)
		line = "Your registration has been approved."
	case kuvert.KindCancellation:
		subject = fmt.Sprintf("Registration %s %s", ref, orDefault(data.Status, "cancelled"))
		line = fmt.Sprintf("Your registration has been %s.", orDefault(data.Status, "cancelled"))
	case kuvert.KindAdminNotification:
		subject = fmt.Sprintf("New registration %s", ref)
		line = fmt.Sprintf("A new registration from %s needs review.", reg.Name)
	default:
		subject = fmt.Sprintf("Registration %s", ref)
		line = "We have received your registration."
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "Hi %s,\n\n%s\n\n", name, line)
	fmt.Fprintf(b, "Reference: %s\n", ref)
	if len(reg.PlanName) > 0 {
		fmt.Fprintf(b, "Plan: %s\n", reg.PlanName)
	}
	if len(data.Reason) > 0 {
		fmt.Fprintf(b, "Reason: %s\n", data.Reason)
	}
	return Rendered{Subject: subject, Text: b.String()}
}

func orDefault(s, def string) string {
	if len(s) == 0 {
		return def
	}
	return s
}
