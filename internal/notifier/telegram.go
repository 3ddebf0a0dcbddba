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

// Telegram sends through the Bot API; the delivery target is the chat id.
type Telegram struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

func NewTelegram(token string) *Telegram {
	return &Telegram{
		Token:   token,
		BaseURL: "https://api.telegram.org",
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Enabled() bool {
	return t.Token != ""
}

func (t *Telegram) Send(ctx context.Context, chatID, msg string) error {
	if !t.Enabled() {
		return &SinkError{Sink: t.Name(), Err: errors.New("telegram not configured")}
	}
	payload := map[string]any{"chat_id": chatID, "text": msg, "disable_web_page_preview": true}
	b, _ := json.Marshal(payload)
	u := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return &SinkError{Sink: t.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := t.HTTP.Do(req)
	if err != nil {
		return &SinkError{Sink: t.Name(), Err: err}
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return &SinkError{Sink: t.Name(), Status: res.StatusCode, Err: fmt.Errorf("%s", string(resp))}
	}
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return &SinkError{Sink: t.Name(), Status: res.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if !out.OK {
		return &SinkError{Sink: t.Name(), Status: res.StatusCode, Err: errors.New(out.Description)}
	}
	return nil
}
