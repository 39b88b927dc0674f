package whatsapp

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

var (
	ErrNotConfigured    = errors.New("whatsapp_not_configured")
	ErrInvalidRecipient = errors.New("invalid_recipient")
)

// Provider sends a single text message to one phone number.
type Provider interface {
	SendText(ctx context.Context, to string, body string) (string, error)
}

// NoOpProvider rejects every send so credits are refunded when no
// WhatsApp account is configured.
type NoOpProvider struct{}

func (p *NoOpProvider) SendText(ctx context.Context, to string, body string) (string, error) {
	return "", ErrNotConfigured
}

type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// CloudAPIProvider talks to the WhatsApp Business Cloud API.
type CloudAPIProvider struct {
	cfg    Config
	client *http.Client
}

func NewCloudAPI(cfg Config, client *http.Client) *CloudAPIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CloudAPIProvider{cfg: cfg, client: client}
}

type textMessage struct {
	MessagingProduct string      `json:"messaging_product"`
	RecipientType    string      `json:"recipient_type"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText returns the provider message id.
func (p *CloudAPIProvider) SendText(ctx context.Context, to string, body string) (string, error) {
	to = normalizePhone(to)
	if to == "" {
		return "", ErrInvalidRecipient
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textPayload{Body: body},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", p.cfg.BaseURL, p.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp read response: %w", err)
	}

	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("whatsapp send: status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("whatsapp send: status %d", resp.StatusCode)
	}
	if len(parsed.Messages) == 0 {
		return "", errors.New("whatsapp send: response carried no message id")
	}
	return parsed.Messages[0].ID, nil
}

// normalizePhone keeps digits only; the Cloud API expects E.164 without "+".
func normalizePhone(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
