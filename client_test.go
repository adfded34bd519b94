package kuvert_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/api"
	"github.com/modfin/kuvert/internal/campaign"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/internal/transport"
	"github.com/modfin/kuvert/tools"
)

func setup(t *testing.T) (*kuvert.Client, dao.DAO) {
	t.Helper()
	lc := tools.NopLogger()
	db, err := dao.New(filepath.Join(t.TempDir(), "kuvert.sqlite"), lc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, lc)
	p := mta.New(mta.Config{}, db, transport.Log(lc), lc)
	c := campaign.New(db, q, lc)
	srv := httptest.NewServer(api.New(api.Config{Keys: []string{"k1"}}, q, p, c, lc).Handler())
	t.Cleanup(srv.Close)

	return kuvert.NewClient("k1", srv.URL+"/"), db
}

func TestClient_Messages(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	m, err := client.Enqueue(ctx, kuvert.EnqueueRequest{
		To:            kuvert.Address{Name: "Jane Doe", Email: "jane@example.com"},
		Subject:       "Welcome",
		Text:          "Hello",
		Kind:          kuvert.KindRegistrationConfirmation,
		CorrelationID: "reg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, kuvert.PriorityTransactional, m.Priority)

	got, err := client.Message(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "reg-1", got.CorrelationID)

	page, err := client.Messages(ctx, kuvert.MessageQuery{CorrelationID: "reg-1"})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, 1, page.Total)

	ok, err := client.Cancel(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Retry(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats, "processor")
	assert.Contains(t, stats, "messages")
}

func TestClient_Errors(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	_, err := client.Message(ctx, "missing")
	var apiErr *kuvert.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = client.Enqueue(ctx, kuvert.EnqueueRequest{To: kuvert.AddressOf("not an address"), Subject: "s", Text: "t", Kind: kuvert.KindApproval})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid recipient")

	unreachable := kuvert.NewClient("k1", "http://127.0.0.1:1")
	_, err = unreachable.Stats(ctx)
	assert.Error(t, err)
}

func TestClient_Campaigns(t *testing.T) {
	client, db := setup(t)
	ctx := context.Background()
	require.NoError(t, db.InsertRegistration(ctx, &kuvert.Registration{
		ID: "t1", Reference: "REG-T1", Type: kuvert.RegistrationTeam, Name: "Team Rocket", Email: "team@example.com",
		TeamName: "Rocket", PlanName: "Team", CreatedAt: time.Now().UTC(),
		Members: []kuvert.TeamMember{
			{Name: "Ann Leader", Email: "ann@example.com", Leader: true},
			{Name: "Bob Member", Email: "bob@example.com"},
		},
	}))

	c, err := client.CreateCampaign(ctx, kuvert.NewCampaign{
		Name: "Kickoff", Subject: "Hi {{first_name}} of {{team_name}}", Text: "See you", Audience: kuvert.AudienceTeam,
	})
	require.NoError(t, err)
	assert.Equal(t, kuvert.CampaignDraft, c.Status)

	c, err = client.ScheduleCampaign(ctx, c.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, kuvert.CampaignScheduled, c.Status)

	c, err = client.SendCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, kuvert.CampaignSent, c.Status)
	assert.Equal(t, 1, c.Recipients)
	assert.Equal(t, 1, c.Queued)

	page, err := client.Messages(ctx, kuvert.MessageQuery{CampaignID: c.ID})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "ann@example.com", page.Messages[0].Recipient.Email)
	assert.Equal(t, "Hi Ann of Rocket", page.Messages[0].Subject)

	_, err = client.CancelCampaign(ctx, c.ID)
	var apiErr *kuvert.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	list, err := client.Campaigns(ctx, kuvert.CampaignSent, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	got, err := client.Campaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}
