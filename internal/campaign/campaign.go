package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/internal/signals"
	"github.com/modfin/kuvert/tools"
)

var (
	ErrBusy         = errors.New("campaign is already being sent")
	ErrInvalidState = errors.New("campaign is not in a state that allows this")
	ErrNotFound     = dao.ErrNotFound
)

// RecentWindow is how far back the recent audience reaches
const RecentWindow = 7 * 24 * time.Hour

// StaleAfter is how long a campaign may stay sending before the sweep gives up on it
const StaleAfter = time.Hour

type Enqueuer interface {
	EnqueueForCampaign(ctx context.Context, to kuvert.Address, c queue.Content, campaignID, campaignName string) (*kuvert.Message, error)
}

type Draft struct {
	Name     string          `json:"name"`
	Subject  string          `json:"subject"`
	Text     string          `json:"text"`
	HTML     string          `json:"html"`
	Audience kuvert.Audience `json:"audience"`
}

type Option func(o *Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

type Orchestrator struct {
	db    dao.DAO
	queue Enqueuer
	locks *tools.KeyedMutex[string]
	now   func() time.Time
	log   *logrus.Logger
}

func New(db dao.DAO, q Enqueuer, lc *tools.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:    db,
		queue: q,
		locks: tools.NewKeyedMutex[string](),
		now:   time.Now,
		log:   lc.New("campaign"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Create(ctx context.Context, d Draft) (*kuvert.Campaign, error) {
	var errs []error
	if len(strings.TrimSpace(d.Name)) == 0 {
		errs = append(errs, &queue.ValidationError{Field: "name", Reason: "must not be empty"})
	}
	if len(strings.TrimSpace(d.Subject)) == 0 {
		errs = append(errs, &queue.ValidationError{Field: "subject", Reason: "must not be empty"})
	}
	if len(strings.TrimSpace(d.Text)) == 0 && len(strings.TrimSpace(d.HTML)) == 0 {
		errs = append(errs, &queue.ValidationError{Field: "body", Reason: "text or html is required"})
	}
	if !d.Audience.Valid() {
		errs = append(errs, &queue.ValidationError{Field: "audience", Reason: fmt.Sprintf("%q is not a known audience", d.Audience)})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	c := &kuvert.Campaign{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(d.Name),
		Subject:   strings.TrimSpace(d.Subject),
		Text:      d.Text,
		HTML:      d.HTML,
		Audience:  d.Audience,
		Status:    kuvert.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := o.db.InsertCampaign(ctx, c)
	if err != nil {
		return nil, err
	}
	o.log.WithField("cid", c.ID).WithField("audience", c.Audience).Info("campaign created")
	return c, nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*kuvert.Campaign, error) {
	return o.db.GetCampaign(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, status kuvert.CampaignStatus, page, pageSize int) ([]kuvert.Campaign, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > queue.MaxPageSize {
		pageSize = queue.DefaultPageSize
	}
	return o.db.ListCampaigns(ctx, dao.CampaignFilter{Status: status, Offset: (page - 1) * pageSize, Limit: pageSize})
}

// Schedule sets the time the scheduled sweep sends the campaign, a past time makes it due on the next sweep
func (o *Orchestrator) Schedule(ctx context.Context, id string, at time.Time) (*kuvert.Campaign, error) {
	ok, err := o.db.ScheduleCampaign(ctx, id, at, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("could not schedule campaign %s, %w", id, ErrInvalidState)
	}
	o.log.WithField("cid", id).WithField("at", at.UTC()).Info("campaign scheduled")
	if !at.After(o.now()) {
		signals.Notify(signals.CampaignQueued)
	}
	return o.db.GetCampaign(ctx, id)
}

func (o *Orchestrator) Cancel(ctx context.Context, id string) (*kuvert.Campaign, error) {
	ok, err := o.db.TransitionCampaign(ctx, id, []kuvert.CampaignStatus{kuvert.CampaignDraft, kuvert.CampaignScheduled}, kuvert.CampaignCancelled, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("could not cancel campaign %s, %w", id, ErrInvalidState)
	}
	o.log.WithField("cid", id).Info("campaign cancelled")
	return o.db.GetCampaign(ctx, id)
}

// Send expands the campaign into one message per recipient. The campaign is sent once
// expansion completes, whatever happens to the individual messages.
func (o *Orchestrator) Send(ctx context.Context, id string) (*kuvert.Campaign, error) {
	release, ok := o.locks.TryLock(id)
	if !ok {
		return nil, fmt.Errorf("campaign %s, %w", id, ErrBusy)
	}
	defer release()

	c, err := o.db.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Sendable() {
		return nil, fmt.Errorf("campaign %s is %s, %w", id, c.Status, ErrInvalidState)
	}

	ok, err = o.db.TransitionCampaign(ctx, id, []kuvert.CampaignStatus{kuvert.CampaignDraft, kuvert.CampaignScheduled}, kuvert.CampaignSending, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("campaign %s changed state, %w", id, ErrInvalidState)
	}
	c.Status = kuvert.CampaignSending
	log := o.log.WithField("cid", id)
	log.Info("sending campaign")

	// the campaign is finished even if the caller goes away, it would otherwise be stuck sending
	ctx = context.WithoutCancel(ctx)

	recipients, err := o.Resolve(ctx, c.Audience)
	if err != nil {
		log.WithError(err).Error("could not resolve audience")
		c.Status = kuvert.CampaignFailed
		if ferr := o.db.FinishCampaign(ctx, c, o.now()); ferr != nil {
			log.WithError(ferr).Error("could not mark campaign as failed")
		}
		return nil, fmt.Errorf("could not resolve audience of campaign %s, %w", id, err)
	}

	c.Recipients = len(recipients)
	for _, r := range recipients {
		content := queue.Content{
			Subject: Personalize(c.Subject, r),
			Text:    Personalize(c.Text, r),
			HTML:    PersonalizeHTML(c.HTML, r),
		}
		_, err := o.queue.EnqueueForCampaign(ctx, r.Address, content, c.ID, c.Name)
		if err != nil {
			c.Failed++
			log.WithError(err).WithField("to", r.Address.Email).Warn("could not enqueue campaign message")
			continue
		}
		c.Queued++
	}

	c.Status = kuvert.CampaignSent
	err = o.db.FinishCampaign(ctx, c, o.now())
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"recipients": c.Recipients,
		"queued":     c.Queued,
		"failed":     c.Failed,
	}).Info("campaign sent")
	return o.db.GetCampaign(ctx, id)
}

// Resolve turns an audience into recipients. Teams get a single recipient, their leader,
// and every address is only included once.
func (o *Orchestrator) Resolve(ctx context.Context, audience kuvert.Audience) ([]Recipient, error) {
	var f dao.RegistrationFilter
	switch audience {
	case kuvert.AudienceAll:
	case kuvert.AudienceIndividual:
		f.Type = kuvert.RegistrationIndividual
	case kuvert.AudienceTeam:
		f.Type = kuvert.RegistrationTeam
	case kuvert.AudienceRecent:
		since := o.now().Add(-RecentWindow)
		f.Since = &since
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}

	regs, err := o.db.ListRegistrations(ctx, f)
	if err != nil {
		return nil, err
	}

	recipients := slicez.Map(regs, func(r kuvert.Registration) Recipient {
		return Recipient{Address: r.Contact(), Registration: r}
	})
	seen := map[string]bool{}
	return slicez.Reject(recipients, func(r Recipient) bool {
		key := strings.ToLower(strings.TrimSpace(r.Address.Email))
		if len(key) == 0 || seen[key] {
			return true
		}
		seen[key] = true
		return false
	}), nil
}

// RunScheduledSweep sends every scheduled campaign whose time has come, after failing
// campaigns whose send was interrupted
func (o *Orchestrator) RunScheduledSweep(ctx context.Context) (int, error) {
	err := o.recoverStale(ctx)
	if err != nil {
		return 0, err
	}

	due, err := o.db.DueCampaigns(ctx, o.now())
	if err != nil {
		return 0, err
	}
	var sent int
	for _, c := range due {
		_, err := o.Send(ctx, c.ID)
		if errors.Is(err, ErrBusy) || errors.Is(err, ErrInvalidState) {
			continue
		}
		if err != nil {
			o.log.WithError(err).WithField("cid", c.ID).Error("could not send scheduled campaign")
			continue
		}
		sent++
	}
	return sent, nil
}

// recoverStale marks campaigns that were left sending as failed. The messages that were
// enqueued before the interruption stay queued and are counted, nothing is enqueued again.
func (o *Orchestrator) recoverStale(ctx context.Context) error {
	stale, err := o.db.StaleCampaigns(ctx, o.now().Add(-StaleAfter))
	if err != nil {
		return err
	}
	for i := range stale {
		c := &stale[i]
		release, ok := o.locks.TryLock(c.ID)
		if !ok {
			continue // still being sent by this process
		}
		_, total, err := o.db.ListMessages(ctx, dao.MessageFilter{CampaignID: c.ID, Limit: 1})
		if err != nil {
			release()
			return err
		}
		c.Queued = total
		c.Status = kuvert.CampaignFailed
		err = o.db.FinishCampaign(ctx, c, o.now())
		release()
		if err != nil {
			o.log.WithError(err).WithField("cid", c.ID).Error("could not fail interrupted campaign")
			continue
		}
		o.log.WithField("cid", c.ID).WithField("queued", c.Queued).Warn("campaign send was interrupted, marked as failed")
	}
	return nil
}
