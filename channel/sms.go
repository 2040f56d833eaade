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

// SMSConfig carries the HTTP gateway settings for the SMS adapter
type SMSConfig struct {
	BaseURL    string
	APIKey     string
	SenderName string
	Timeout    time.Duration
}

// SMSAdapter delivers sequence steps through an HTTP SMS gateway
type SMSAdapter struct {
	cfg    SMSConfig
	client *http.Client
}

func NewSMSAdapter(cfg SMSConfig) *SMSAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMSAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *SMSAdapter) Channel() models.ChannelType {
	return models.ChannelTypeSMS
}

type smsSendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type smsSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Send posts the message to the gateway. Malformed recipients and 4xx
// rejections are permanent; timeouts, 429 and 5xx are transient.
func (a *SMSAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		return Result{}, Permanent(fmt.Errorf("sms send: empty recipient"))
	}

	payload := smsSendRequest{
		Sender:    a.cfg.SenderName,
		Recipient: recipient,
		Message:   msg.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("sms send: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("sms send: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("sms send to %s: %w", recipient, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("sms send: read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, classifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var parsed smsSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, Transient(fmt.Errorf("sms send: decode response: %w", err))
	}
	if parsed.Error != "" {
		return Result{}, Permanent(fmt.Errorf("sms gateway rejected message: %s", parsed.Error))
	}

	status := DeliveryStatusSent
	if parsed.Status == "delivered" {
		status = DeliveryStatusDelivered
	}
	return Result{MessageID: parsed.MessageID, Status: status}, nil
}
