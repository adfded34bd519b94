package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/signals"
	"github.com/modfin/kuvert/tools"
)

// MaxContentSize caps subject, text and html combined
const MaxContentSize = 2 << 20

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrNotFound = dao.ErrNotFound

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s, %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Content struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Request is the general form of all enqueue operations
type Request struct {
	To            kuvert.Address
	Content       Content
	Kind          kuvert.Kind
	Priority      int        // 0 picks the default priority of the kind
	At            *time.Time // nil sends as soon as possible
	CorrelationID string
	CampaignID    string
	CampaignName  string
}

type Filter struct {
	Status        kuvert.Status
	CampaignID    string
	Kind          kuvert.Kind
	CorrelationID string
	Page          int // starts at 1
	PageSize      int
}

type Page struct {
	Messages []kuvert.Message `json:"messages"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type Option func(s *Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

type Service struct {
	db          dao.DAO
	now         func() time.Time
	maxAttempts int
	log         *logrus.Logger
}

func New(db dao.DAO, lc *tools.Logger, opts ...Option) *Service {
	s := &Service{
		db:          db,
		now:         time.Now,
		maxAttempts: kuvert.DefaultMaxAttempts,
		log:         lc.New("queue"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Enqueue(ctx context.Context, to kuvert.Address, c Content, kind kuvert.Kind, correlationID string) (*kuvert.Message, error) {
	return s.Add(ctx, Request{To: to, Content: c, Kind: kind, CorrelationID: correlationID})
}

// Schedule enqueues a message that is not sent before at. A time in the past is
// clamped to now and the message is immediately eligible.
func (s *Service) Schedule(ctx context.Context, to kuvert.Address, c Content, kind kuvert.Kind, at time.Time) (*kuvert.Message, error) {
	return s.Add(ctx, Request{To: to, Content: c, Kind: kind, At: &at})
}

// EnqueueForCampaign enqueues content the campaign has already personalized
func (s *Service) EnqueueForCampaign(ctx context.Context, to kuvert.Address, c Content, campaignID, campaignName string) (*kuvert.Message, error) {
	return s.Add(ctx, Request{To: to, Content: c, Kind: kuvert.KindCampaign, CampaignID: campaignID, CampaignName: campaignName})
}

func (s *Service) Add(ctx context.Context, req Request) (*kuvert.Message, error) {
	err := validate(req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &kuvert.Message{
		ID:            uuid.NewString(),
		Recipient:     kuvert.Address{Name: strings.TrimSpace(req.To.Name), Email: strings.TrimSpace(req.To.Email)},
		Subject:       strings.TrimSpace(req.Content.Subject),
		Text:          req.Content.Text,
		HTML:          req.Content.HTML,
		Kind:          req.Kind,
		Priority:      req.Priority,
		Status:        kuvert.StatusPending,
		ScheduledAt:   now,
		MaxAttempts:   s.maxAttempts,
		CorrelationID: req.CorrelationID,
		CampaignID:    req.CampaignID,
		CampaignName:  req.CampaignName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if m.Priority == 0 {
		m.Priority = PriorityOf(req.Kind)
	}
	if req.At != nil {
		m.Status = kuvert.StatusScheduled
		if req.At.After(now) {
			m.ScheduledAt = req.At.UTC()
		}
	}

	err = s.db.InsertMessage(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("could not enqueue message, %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"mid":    m.ID,
		"kind":   m.Kind,
		"status": m.Status,
		"at":     m.ScheduledAt,
	}).Debug("message enqueued")
	if !m.ScheduledAt.After(now) {
		signals.Notify(signals.MessageQueued)
	}
	return m, nil
}

// Cancel stops a message that has not yet been claimed, false means it was past that point
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := s.db.CancelMessage(ctx, id, s.now())
	if err != nil {
		return false, err
	}
	s.log.WithField("mid", id).WithField("cancelled", ok).Info("cancel requested")
	return ok, nil
}

// Retry requeues a failed or cancelled message with a fresh attempt budget
func (s *Service) Retry(ctx context.Context, id string) (bool, error) {
	ok, err := s.db.RetryMessage(ctx, id, s.now())
	if err != nil {
		return false, err
	}
	s.log.WithField("mid", id).WithField("requeued", ok).Info("retry requested")
	return ok, nil
}

func (s *Service) Get(ctx context.Context, id string) (*kuvert.Message, error) {
	return s.db.GetMessage(ctx, id)
}

func (s *Service) Log(ctx context.Context, id string) ([]dao.LogEntry, error) {
	_, err := s.db.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.db.MessageLog(ctx, id)
}

func (s *Service) Counts(ctx context.Context) (map[kuvert.Status]int, error) {
	return s.db.CountMessages(ctx)
}

func (s *Service) Query(ctx context.Context, f Filter) (*Page, error) {
	if len(f.Status) > 0 && !f.Status.Valid() {
		return nil, invalid("status", "%q is not a known status", f.Status)
	}
	if len(f.Kind) > 0 && !f.Kind.Valid() {
		return nil, invalid("kind", "%q is not a known kind", f.Kind)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}

	msgs, total, err := s.db.ListMessages(ctx, dao.MessageFilter{
		Status:        f.Status,
		CampaignID:    f.CampaignID,
		Kind:          f.Kind,
		CorrelationID: f.CorrelationID,
		Offset:        (f.Page - 1) * f.PageSize,
		Limit:         f.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return &Page{Messages: msgs, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func PriorityOf(kind kuvert.Kind) int {
	switch kind {
	case kuvert.KindCampaign:
		return kuvert.PriorityBulk
	case kuvert.KindAdminNotification:
		return kuvert.PriorityNormal
	}
	return kuvert.PriorityTransactional
}

func validate(req Request) error {
	var errs []error
	if err := req.To.Valid(); err != nil {
		errs = append(errs, invalid("recipient", "%v", err))
	}
	if strings.ContainsAny(req.To.Name, "\r\n") {
		errs = append(errs, invalid("recipient", "name contains line breaks"))
	}
	if len(strings.TrimSpace(req.Content.Subject)) == 0 {
		errs = append(errs, invalid("subject", "must not be empty"))
	}
	if strings.ContainsAny(req.Content.Subject, "\r\n") {
		errs = append(errs, invalid("subject", "contains line breaks"))
	}
	if len(strings.TrimSpace(req.Content.Text)) == 0 && len(strings.TrimSpace(req.Content.HTML)) == 0 {
		errs = append(errs, invalid("body", "text or html is required"))
	}
	if size := len(req.Content.Subject) + len(req.Content.Text) + len(req.Content.HTML); size > MaxContentSize {
		errs = append(errs, invalid("body", "content is %d bytes, max is %d", size, MaxContentSize))
	}
	if !req.Kind.Valid() {
		errs = append(errs, invalid("kind", "%q is not a known kind", req.Kind))
	}
	if req.Priority < 0 {
		errs = append(errs, invalid("priority", "must not be negative"))
	}
	return errors.Join(errs...)
}
