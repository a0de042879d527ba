package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/recruiter/internal/reliability"
)

const DefaultBaseURL = "https://api.trello.com"

// Config controls client construction.
type Config struct {
	BaseURL string
	APIKey  string
	Token   string
	Timeout time.Duration
}

// Client talks to the Trello REST API. Credentials travel as query
// parameters, so request URLs are never included in returned errors.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	client  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("trello api key and token are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type CardRequest struct {
	Name        string
	Description string
	ListID      string
}

type Card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShortURL string `json:"shortUrl"`
}

// StatusError is returned when Trello answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("trello %s status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

func (c *Client) CreateCard(ctx context.Context, req CardRequest) (Card, error) {
	if strings.TrimSpace(req.ListID) == "" {
		return Card{}, errors.New("trello list id is required")
	}
	form := url.Values{}
	form.Set("idList", req.ListID)
	form.Set("name", req.Name)
	form.Set("desc", req.Description)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/1/cards"), strings.NewReader(form.Encode()))
	if err != nil {
		return Card{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	var card Card
	if err := c.do(httpReq, "create_card", &card); err != nil {
		return Card{}, err
	}
	if card.ID == "" {
		return Card{}, errors.New("trello create_card: response has no card id")
	}
	return card, nil
}

// AttachFile uploads r as a multipart "file" field on the card.
func (c *Client) AttachFile(ctx context.Context, cardID, fileName string, r io.Reader) error {
	if strings.TrimSpace(cardID) == "" {
		return errors.New("trello card id is required")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	if err := mw.WriteField("name", fileName); err != nil {
		return fmt.Errorf("write name field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	path := "/1/cards/" + url.PathEscape(cardID) + "/attachments"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	return c.do(httpReq, "attach_file", nil)
}

func (c *Client) endpoint(path string) string {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("token", c.token)
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) do(req *http.Request, op string, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("trello %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("trello %s: decode response: %w", op, err)
	}
	return nil
}
