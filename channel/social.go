package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leadpulse/sequence-engine/models"
)

// SocialConfig carries the settings for the social outreach provider
type SocialConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SocialAdapter sends connection messages and DMs through an outreach
// provider API. The recipient is the lead's profile handle or URL.
type SocialAdapter struct {
	cfg    SocialConfig
	client *http.Client
}

func NewSocialAdapter(cfg SocialConfig) *SocialAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SocialAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *SocialAdapter) Channel() models.ChannelType {
	return models.ChannelTypeSocial
}

type socialSendRequest struct {
	Profile string `json:"profile"`
	// Kind is "connection_request" or "direct_message". Steps choose via
	// their data payload; direct message is the default.
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type socialSendResponse struct {
	MessageID string `json:"message_id"`
}

func (a *SocialAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	profile := strings.TrimSpace(msg.Recipient)
	if profile == "" {
		return Result{}, Permanent(fmt.Errorf("social send: empty profile"))
	}

	kind := msg.Data["message_kind"]
	if kind == "" {
		kind = "direct_message"
	}

	body, err := json.Marshal(socialSendRequest{Profile: profile, Kind: kind, Message: msg.Body})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("social send: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/outreach/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("social send: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("social send to %s: %w", profile, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("social send: read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Result{}, classifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("social provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var parsed socialSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, Transient(fmt.Errorf("social send: decode response: %w", err))
	}
	return Result{MessageID: parsed.MessageID, Status: DeliveryStatusSent}, nil
}
