package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultSlackURL = "https://slack.com/api"

// Slack posts messages with the Web API chat.postMessage method.
type Slack struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

func NewSlack(token string) *Slack {
	return &Slack{
		Token:   token,
		BaseURL: defaultSlackURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Enabled() bool { return s.Token != "" }

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Slack) Send(ctx context.Context, channel, text string) error {
	if !s.Enabled() {
		return &SinkError{Sink: s.Name(), Err: errors.New("slack not configured")}
	}
	payload := map[string]any{"channel": channel, "text": text}
	b, _ := json.Marshal(payload)
	u := strings.TrimRight(s.BaseURL, "/") + "/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return &SinkError{Sink: s.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.Token)
	res, err := s.HTTP.Do(req)
	if err != nil {
		return &SinkError{Sink: s.Name(), Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode >= 300 {
		return &SinkError{Sink: s.Name(), Status: res.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}
	var out slackResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return &SinkError{Sink: s.Name(), Status: res.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if !out.OK {
		if out.Error == "" {
			out.Error = "unknown error"
		}
		return &SinkError{Sink: s.Name(), Status: res.StatusCode, Err: errors.New(out.Error)}
	}
	return nil
}
