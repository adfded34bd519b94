package kuvert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func NewClient(apiKey string, host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host:   host,
		apiKey: apiKey,
		http:   http.DefaultClient,
	}
}

// Client talks to the operator api of kuvertd
type Client struct {
	host   string
	apiKey string
	http   *http.Client
}

// APIError is returned for any non 2xx response
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kuvert api responded %d, %s", e.StatusCode, e.Message)
}

type EnqueueRequest struct {
	To            Address    `json:"to"`
	Subject       string     `json:"subject"`
	Text          string     `json:"text,omitempty"`
	HTML          string     `json:"html,omitempty"`
	Kind          Kind       `json:"kind"`
	Priority      int        `json:"priority,omitempty"`
	SendAt        *time.Time `json:"send_at,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

type MessageQuery struct {
	Status        Status
	CampaignID    string
	Kind          Kind
	CorrelationID string
	Page          int
	PageSize      int
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

type CampaignPage struct {
	Campaigns []Campaign `json:"campaigns"`
	Total     int        `json:"total"`
}

type NewCampaign struct {
	Name     string   `json:"name"`
	Subject  string   `json:"subject"`
	Text     string   `json:"text,omitempty"`
	HTML     string   `json:"html,omitempty"`
	Audience Audience `json:"audience"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.apiKey) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBytes, apiErr) != nil || len(apiErr.Message) == 0 {
			apiErr.Message = strings.TrimSpace(string(respBytes))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBytes, out)
}

func (c *Client) Enqueue(ctx context.Context, r EnqueueRequest) (*Message, error) {
	var m Message
	err := c.do(ctx, http.MethodPost, "/messages", nil, r, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, nil, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Messages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	v := url.Values{}
	set := func(k, val string) {
		if len(val) > 0 {
			v.Set(k, val)
		}
	}
	set("status", string(q.Status))
	set("campaign_id", q.CampaignID)
	set("kind", string(q.Kind))
	set("correlation_id", q.CorrelationID)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}

	var p MessagePage
	err := c.do(ctx, http.MethodGet, "/messages", v, nil, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Cancel reports false if the message had already been claimed or finished
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var r struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/cancel", nil, nil, &r)
	return r.Cancelled, err
}

// Retry reports false unless the message was failed or cancelled
func (c *Client) Retry(ctx context.Context, id string) (bool, error) {
	var r struct {
		Requeued bool `json:"requeued"`
	}
	err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/retry", nil, nil, &r)
	return r.Requeued, err
}

// Stats returns the raw stats document of the server
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	var s map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &s)
	return s, err
}

func (c *Client) CreateCampaign(ctx context.Context, d NewCampaign) (*Campaign, error) {
	return c.campaign(ctx, http.MethodPost, "/campaigns", d)
}

func (c *Client) Campaign(ctx context.Context, id string) (*Campaign, error) {
	return c.campaign(ctx, http.MethodGet, "/campaigns/"+url.PathEscape(id), nil)
}

func (c *Client) Campaigns(ctx context.Context, status CampaignStatus, page, pageSize int) (*CampaignPage, error) {
	v := url.Values{}
	if len(status) > 0 {
		v.Set("status", string(status))
	}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		v.Set("page_size", strconv.Itoa(pageSize))
	}
	var p CampaignPage
	err := c.do(ctx, http.MethodGet, "/campaigns", v, nil, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SendCampaign(ctx context.Context, id string) (*Campaign, error) {
	return c.campaign(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/send", nil)
}

func (c *Client) ScheduleCampaign(ctx context.Context, id string, at time.Time) (*Campaign, error) {
	return c.campaign(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/schedule", map[string]time.Time{"at": at})
}

func (c *Client) CancelCampaign(ctx context.Context, id string) (*Campaign, error) {
	return c.campaign(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(id)+"/cancel", nil)
}

func (c *Client) campaign(ctx context.Context, method, path string, in interface{}) (*Campaign, error) {
	var camp Campaign
	err := c.do(ctx, method, path, nil, in, &camp)
	if err != nil {
		return nil, err
	}
	return &camp, nil
}
