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

// VoiceConfig carries the settings for the outbound calling provider
type VoiceConfig struct {
	BaseURL        string
	APIKey         string
	DefaultAgentID string
	Timeout        time.Duration
}

// VoiceAdapter initiates outbound calls. Sending means queueing the call
// with the provider; the call outcome arrives later as channel events.
type VoiceAdapter struct {
	cfg    VoiceConfig
	client *http.Client
}

func NewVoiceAdapter(cfg VoiceConfig) *VoiceAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &VoiceAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (a *VoiceAdapter) Channel() models.ChannelType {
	return models.ChannelTypeVoice
}

type voiceCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	AgentID     string `json:"agent_id"`
	Script      string `json:"script,omitempty"`
}

type voiceCallResponse struct {
	CallID string `json:"call_id"`
}

func (a *VoiceAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	phone := strings.TrimSpace(msg.Recipient)
	if phone == "" {
		return Result{}, Permanent(fmt.Errorf("voice call: empty phone number"))
	}

	agentID := msg.Data["agent_id"]
	if agentID == "" {
		agentID = a.cfg.DefaultAgentID
	}
	if agentID == "" {
		return Result{}, Permanent(fmt.Errorf("voice call: no agent configured"))
	}

	body, err := json.Marshal(voiceCallRequest{PhoneNumber: phone, AgentID: agentID, Script: msg.Body})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("voice call: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("voice call: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("voice call to %s: %w", phone, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Transient(fmt.Errorf("voice call: read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Result{}, classifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("voice provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var parsed voiceCallResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, Transient(fmt.Errorf("voice call: decode response: %w", err))
	}
	return Result{MessageID: parsed.CallID, Status: DeliveryStatusSent}, nil
}
