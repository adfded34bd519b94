package dao

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/tools"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) DAO {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "kuvert.sqlite"), tools.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMessage(to string, priority int, at time.Time) *kuvert.Message {
	return &kuvert.Message{
		ID:          xid.New().String(),
		Recipient:   kuvert.Address{Name: "Jane Doe", Email: to},
		Subject:     "Hello",
		Text:        "Hello there",
		HTML:        "<p>Hello there</p>",
		Kind:        kuvert.KindRegistrationConfirmation,
		Priority:    priority,
		Status:      kuvert.StatusPending,
		ScheduledAt: at,
		MaxAttempts: kuvert.DefaultMaxAttempts,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestInsertGetMessage(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	m := newMessage("jane@example.com", kuvert.PriorityNormal, t0)
	m.CorrelationID = "reg-1"
	require.NoError(t, db.InsertMessage(ctx, m))

	got, err := db.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	if diff := deep.Equal(got, m); diff != nil {
		t.Error(diff)
	}

	_, err = db.GetMessage(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDueMessagesOrder(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	bulk := newMessage("a@example.com", kuvert.PriorityBulk, t0.Add(-time.Hour))
	trans := newMessage("b@example.com", kuvert.PriorityTransactional, t0)
	normalOld := newMessage("c@example.com", kuvert.PriorityNormal, t0.Add(-2*time.Minute))
	normalNew := newMessage("d@example.com", kuvert.PriorityNormal, t0.Add(-time.Minute))
	future := newMessage("e@example.com", kuvert.PriorityTransactional, t0.Add(time.Minute))
	future.Status = kuvert.StatusScheduled

	for _, m := range []*kuvert.Message{bulk, trans, normalNew, normalOld, future} {
		require.NoError(t, db.InsertMessage(ctx, m))
	}

	due, err := db.DueMessages(ctx, t0, 10)
	require.NoError(t, err)

	var ids []string
	for _, m := range due {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{trans.ID, normalOld.ID, normalNew.ID, bulk.ID}, ids)

	due, err = db.DueMessages(ctx, t0, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	due, err = db.DueMessages(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 5)
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	m := newMessage("jane@example.com", kuvert.PriorityNormal, t0)
	require.NoError(t, db.InsertMessage(ctx, m))

	ok, err := db.ClaimMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "a processing message can not be claimed twice")

	next := t0.Add(5 * time.Minute)
	require.NoError(t, db.MarkRetry(ctx, m.ID, "connection refused", next, t0))

	got, err := db.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, kuvert.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, next, got.ScheduledAt)
	assert.Equal(t, "connection refused", got.LastError())
	require.NotNil(t, got.LastAttemptAt)
	assert.Equal(t, t0, *got.LastAttemptAt)

	ok, err = db.ClaimMessage(ctx, m.ID, next)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, db.MarkSent(ctx, m.ID, next))

	got, err = db.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, kuvert.StatusSent, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, next, *got.SentAt)

	err = db.MarkFailed(ctx, m.ID, "too late", next)
	assert.True(t, errors.Is(err, ErrNotProcessing))

	entries, err := db.MessageLog(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestClaimRespectsAttemptBudget(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	m := newMessage("jane@example.com", kuvert.PriorityNormal, t0)
	m.AttemptCount = 3
	require.NoError(t, db.InsertMessage(ctx, m))

	ok, err := db.ClaimMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := db.DueMessages(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancelAndRetry(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	m := newMessage("jane@example.com", kuvert.PriorityNormal, t0)
	require.NoError(t, db.InsertMessage(ctx, m))

	ok, err := db.RetryMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "pending messages can not be retried")

	ok, err = db.CancelMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.CancelMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = db.ClaimMessage(ctx, m.ID, t0)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled messages can not be claimed")

	later := t0.Add(time.Hour)
	ok, err = db.RetryMessage(ctx, m.ID, later)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, kuvert.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, later, got.ScheduledAt)

	_, err = db.CancelMessage(ctx, "missing", t0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	for i := 0; i < 5; i++ {
		m := newMessage("jane@example.com", kuvert.PriorityNormal, t0.Add(time.Duration(i)*time.Second))
		if i%2 == 0 {
			m.CampaignID = "camp"
			m.Kind = kuvert.KindCampaign
		}
		require.NoError(t, db.InsertMessage(ctx, m))
	}

	msgs, total, err := db.ListMessages(ctx, MessageFilter{CampaignID: "camp", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, msgs, 2)

	msgs, total, err = db.ListMessages(ctx, MessageFilter{Limit: 10, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, msgs, 1)

	counts, err := db.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[kuvert.StatusPending])
	assert.Equal(t, 0, counts[kuvert.StatusSent])
	assert.Len(t, counts, len(kuvert.Statuses))
}

func TestStaleAndPurge(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	stale := newMessage("a@example.com", kuvert.PriorityNormal, t0)
	sent := newMessage("b@example.com", kuvert.PriorityNormal, t0)
	require.NoError(t, db.InsertMessage(ctx, stale))
	require.NoError(t, db.InsertMessage(ctx, sent))

	for _, id := range []string{stale.ID, sent.ID} {
		ok, err := db.ClaimMessage(ctx, id, t0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, db.MarkSent(ctx, sent.ID, t0))

	msgs, err := db.StaleMessages(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, stale.ID, msgs[0].ID)

	purged, err := db.PurgeSent(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)

	purged, err = db.PurgeSent(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = db.GetMessage(ctx, sent.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	entries, err := db.MessageLog(ctx, sent.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCampaignTransitions(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	c := &kuvert.Campaign{
		ID:        xid.New().String(),
		Name:      "Spring",
		Subject:   "Hi {{first_name}}",
		Text:      "See you soon",
		Audience:  kuvert.AudienceAll,
		Status:    kuvert.CampaignDraft,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	require.NoError(t, db.InsertCampaign(ctx, c))

	at := t0.Add(time.Hour)
	ok, err := db.ScheduleCampaign(ctx, c.ID, at, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err := db.DueCampaigns(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = db.DueCampaigns(ctx, at)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	ok, err = db.TransitionCampaign(ctx, c.ID, []kuvert.CampaignStatus{kuvert.CampaignDraft, kuvert.CampaignScheduled}, kuvert.CampaignSending, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.TransitionCampaign(ctx, c.ID, []kuvert.CampaignStatus{kuvert.CampaignDraft, kuvert.CampaignScheduled}, kuvert.CampaignSending, at)
	require.NoError(t, err)
	assert.False(t, ok)

	stale, err := db.StaleCampaigns(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, stale)
	stale, err = db.StaleCampaigns(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, c.ID, stale[0].ID)

	c.Status = kuvert.CampaignSent
	c.Recipients, c.Queued, c.Failed = 3, 2, 1
	require.NoError(t, db.FinishCampaign(ctx, c, at))

	got, err := db.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, kuvert.CampaignSent, got.Status)
	assert.Equal(t, 2, got.Queued)
	assert.Equal(t, 1, got.Failed)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	stale, err = db.StaleCampaigns(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = db.TransitionCampaign(ctx, "missing", []kuvert.CampaignStatus{kuvert.CampaignDraft}, kuvert.CampaignCancelled, at)
	assert.True(t, errors.Is(err, ErrNotFound))

	list, total, err := db.ListCampaigns(ctx, CampaignFilter{Status: kuvert.CampaignSent, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}

func TestRegistrations(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	ind := &kuvert.Registration{
		ID: "r1", Reference: "REG-1", Type: kuvert.RegistrationIndividual,
		Name: "Jane Doe", Email: "jane@example.com", Status: "pending", CreatedAt: t0.Add(-10 * 24 * time.Hour),
	}
	team := &kuvert.Registration{
		ID: "r2", Reference: "REG-2", Type: kuvert.RegistrationTeam, TeamName: "Rockets",
		Name: "Coach", Email: "coach@example.com", Status: "approved", CreatedAt: t0,
		Members: []kuvert.TeamMember{
			{Name: "Ann Leader", Email: "ann@example.com", Leader: true},
			{Name: "Bob Member", Email: "bob@example.com"},
		},
	}
	require.NoError(t, db.InsertRegistration(ctx, ind))
	require.NoError(t, db.InsertRegistration(ctx, team))

	regs, err := db.ListRegistrations(ctx, RegistrationFilter{})
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Empty(t, regs[0].Members)
	require.Len(t, regs[1].Members, 2)
	assert.Equal(t, kuvert.Address{Name: "Ann Leader", Email: "ann@example.com"}, regs[1].Contact())

	regs, err = db.ListRegistrations(ctx, RegistrationFilter{Type: kuvert.RegistrationIndividual})
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "r1", regs[0].ID)

	since := t0.Add(-7 * 24 * time.Hour)
	regs, err = db.ListRegistrations(ctx, RegistrationFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "r2", regs[0].ID)

	reg, err := db.GetRegistration(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", reg.Contact().Email)

	_, err = db.GetRegistration(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
