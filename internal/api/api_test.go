package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/campaign"
	"github.com/modfin/kuvert/internal/content"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/notify"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/internal/transport"
	"github.com/modfin/kuvert/tools"
)

const key = "secret-key"

type testServer struct {
	db        dao.DAO
	queue     *queue.Service
	processor *mta.Processor
	handler   http.Handler
}

func setup(t *testing.T) *testServer {
	t.Helper()
	lc := tools.NopLogger()
	db, err := dao.New(filepath.Join(t.TempDir(), "kuvert.sqlite"), lc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, lc)
	p := mta.New(mta.Config{}, db, transport.Unavailable("test"), lc)
	c := campaign.New(db, q, lc)
	gen, err := content.New()
	require.NoError(t, err)
	n := notify.New(notify.Config{Admin: kuvert.AddressOf("admin@example.com"), AdminURL: "https://admin.example.com/registrations"}, q, content.Safe(gen, lc), lc)
	s := New(Config{Keys: []string{key}}, q, p, c, lc, WithNotifier(n, db))
	return &testServer{db: db, queue: q, processor: p, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if len(body) > 0 {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestAuth(t *testing.T) {
	ts := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/messages?key=wrong", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/messages?key="+key, nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMessages(t *testing.T) {
	ts := setup(t)

	code, body := ts.do(t, http.MethodPost, "/messages", `{
		"to": {"name": "Jane Doe", "email": "jane@example.com"},
		"subject": "Hello",
		"text": "Hello Jane",
		"kind": "approval",
		"correlation_id": "reg-1"
	}`)
	require.Equal(t, http.StatusCreated, code, body)

	var m kuvert.Message
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, kuvert.StatusPending, m.Status)
	assert.Equal(t, "jane@example.com", m.Recipient.Email)

	code, body = ts.do(t, http.MethodGet, "/messages/"+m.ID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"correlation_id":"reg-1"`)

	code, body = ts.do(t, http.MethodGet, "/messages?status=pending&page_size=5", "")
	require.Equal(t, http.StatusOK, code)
	var page queue.Page
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	code, body = ts.do(t, http.MethodPost, "/messages/"+m.ID+"/retry", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"requeued":false`)

	code, body = ts.do(t, http.MethodPost, "/messages/"+m.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"cancelled":true`)

	code, body = ts.do(t, http.MethodPost, "/messages/"+m.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"cancelled":false`)

	code, body = ts.do(t, http.MethodPost, "/messages/"+m.ID+"/retry", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"requeued":true`)

	code, body = ts.do(t, http.MethodGet, "/messages/"+m.ID+"/log", "")
	assert.Equal(t, http.StatusOK, code)
	var entries []dao.LogEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	assert.Len(t, entries, 3)
}

func TestMessages_Schedule(t *testing.T) {
	ts := setup(t)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	code, body := ts.do(t, http.MethodPost, "/messages", `{
		"to": {"email": "jane@example.com"},
		"subject": "Later",
		"html": "<p>later</p>",
		"kind": "admin_notification",
		"send_at": "`+at.Format(time.RFC3339)+`"
	}`)
	require.Equal(t, http.StatusCreated, code, body)

	var m kuvert.Message
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, kuvert.StatusScheduled, m.Status)
	assert.True(t, at.Equal(m.ScheduledAt))
}

func TestMessages_Errors(t *testing.T) {
	ts := setup(t)

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{name: "invalid recipient", method: http.MethodPost, path: "/messages", body: `{"to":{"email":"nope"},"subject":"s","text":"t","kind":"approval"}`, code: http.StatusBadRequest},
		{name: "unknown kind", method: http.MethodPost, path: "/messages", body: `{"to":{"email":"jane@example.com"},"subject":"s","text":"t","kind":"spam"}`, code: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, path: "/messages", body: `{"to":`, code: http.StatusBadRequest},
		{name: "unknown status", method: http.MethodGet, path: "/messages?status=lost", code: http.StatusBadRequest},
		{name: "missing message", method: http.MethodGet, path: "/messages/missing", code: http.StatusNotFound},
		{name: "missing message log", method: http.MethodGet, path: "/messages/missing/log", code: http.StatusNotFound},
		{name: "cancel missing", method: http.MethodPost, path: "/messages/missing/cancel", code: http.StatusNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, body := ts.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, code, body)
			assert.Contains(t, body, `"error"`)
		})
	}
}

func TestStats(t *testing.T) {
	ts := setup(t)
	_, err := ts.queue.Enqueue(context.Background(), kuvert.AddressOf("jane@example.com"), queue.Content{Subject: "s", Text: "t"}, kuvert.KindApproval, "")
	require.NoError(t, err)
	_, err = ts.processor.RunTick(context.Background())
	require.NoError(t, err)

	code, body := ts.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)

	var stats Stats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, int64(1), stats.Processor.Ticks)
	assert.Equal(t, int64(1), stats.Processor.Retried)
	assert.Equal(t, 1, stats.Messages[kuvert.StatusPending])
	assert.Equal(t, 0, stats.Messages[kuvert.StatusSent])
}

func TestCampaigns(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	require.NoError(t, ts.db.InsertRegistration(ctx, &kuvert.Registration{
		ID: "r1", Reference: "REG-1", Type: kuvert.RegistrationIndividual, Name: "Jane Doe",
		Email: "jane@example.com", PlanName: "Basic", CreatedAt: time.Now().UTC(),
	}))

	code, body := ts.do(t, http.MethodPost, "/campaigns", `{"name":"Spring","subject":"Hi {{first_name}}","text":"Hello","audience":"all"}`)
	require.Equal(t, http.StatusCreated, code, body)
	var c kuvert.Campaign
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	assert.Equal(t, kuvert.CampaignDraft, c.Status)

	code, body = ts.do(t, http.MethodPost, "/campaigns/"+c.ID+"/schedule", `{}`)
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = ts.do(t, http.MethodPost, "/campaigns/"+c.ID+"/schedule", `{"at":"`+time.Now().Add(time.Hour).UTC().Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"status":"scheduled"`)

	code, body = ts.do(t, http.MethodPost, "/campaigns/"+c.ID+"/send", "")
	require.Equal(t, http.StatusOK, code, body)
	require.NoError(t, json.Unmarshal([]byte(body), &c))
	assert.Equal(t, kuvert.CampaignSent, c.Status)
	assert.Equal(t, 1, c.Queued)

	code, body = ts.do(t, http.MethodPost, "/campaigns/"+c.ID+"/send", "")
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = ts.do(t, http.MethodPost, "/campaigns/"+c.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = ts.do(t, http.MethodGet, "/campaigns?status=sent", "")
	require.Equal(t, http.StatusOK, code)
	var page CampaignPage
	require.NoError(t, json.Unmarshal([]byte(body), &page))
	assert.Equal(t, 1, page.Total)

	code, body = ts.do(t, http.MethodGet, "/messages?campaign_id="+c.ID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"subject":"Hi Jane"`)

	code, _ = ts.do(t, http.MethodGet, "/campaigns/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, http.MethodPost, "/campaigns", `{"name":"","audience":"all"}`)
	assert.Equal(t, http.StatusBadRequest, code, body)
}

func TestRegistrations(t *testing.T) {
	ts := setup(t)
	require.NoError(t, ts.db.InsertRegistration(context.Background(), &kuvert.Registration{
		ID: "t1", Reference: "REG-T1", Type: kuvert.RegistrationTeam, Name: "Team Rocket", Email: "team@example.com",
		TeamName: "Rocket", PlanName: "Team", Status: "pending", CreatedAt: time.Now().UTC(),
		Members: []kuvert.TeamMember{{Name: "Ann Leader", Email: "ann@example.com", Leader: true}},
	}))

	code, body := ts.do(t, http.MethodPost, "/registrations/t1/created", "")
	require.Equal(t, http.StatusCreated, code, body)
	var msgs []kuvert.Message
	require.NoError(t, json.Unmarshal([]byte(body), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "ann@example.com", msgs[0].Recipient.Email)
	assert.Equal(t, kuvert.KindRegistrationConfirmation, msgs[0].Kind)
	assert.Equal(t, "admin@example.com", msgs[1].Recipient.Email)
	assert.Contains(t, msgs[1].Text, "https://admin.example.com/registrations/t1")

	code, body = ts.do(t, http.MethodPost, "/registrations/t1/status", `{"status":"approved"}`)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Contains(t, body, `"kind":"approval"`)

	code, _ = ts.do(t, http.MethodPost, "/registrations/t1/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, http.MethodPost, "/registrations/t1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/registrations/missing/created", "")
	assert.Equal(t, http.StatusNotFound, code)
}
