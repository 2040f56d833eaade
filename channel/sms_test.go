package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/sequence-engine/models"
)

func TestSMSAdapterSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))

		var req smsSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+15551234567", req.Recipient)
		assert.Equal(t, "Hi Dana", req.Message)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(smsSendResponse{MessageID: "sms-42", Status: "sent"})
	}))
	defer srv.Close()

	adapter := NewSMSAdapter(SMSConfig{BaseURL: srv.URL, APIKey: "secret", SenderName: "leadpulse", Timeout: 5 * time.Second})
	assert.Equal(t, models.ChannelTypeSMS, adapter.Channel())

	res, err := adapter.Send(context.Background(), Message{Recipient: "+15551234567", Body: "Hi Dana"})
	require.NoError(t, err)
	assert.Equal(t, "sms-42", res.MessageID)
	assert.Equal(t, DeliveryStatusSent, res.Status)
}

func TestSMSAdapterGatewayErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"gateway down", http.StatusInternalServerError, true},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			adapter := NewSMSAdapter(SMSConfig{BaseURL: srv.URL, APIKey: "secret"})
			_, err := adapter.Send(context.Background(), Message{Recipient: "+15551234567", Body: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestSMSAdapterEmptyRecipient(t *testing.T) {
	adapter := NewSMSAdapter(SMSConfig{BaseURL: "http://unused", APIKey: "secret"})
	_, err := adapter.Send(context.Background(), Message{Recipient: "  ", Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestEmailAdapterRejectsBadAddress(t *testing.T) {
	adapter := NewEmailAdapter(EmailConfig{Host: "smtp.example.com", Port: 587, FromAddress: "out@example.com"})

	_, err := adapter.Send(context.Background(), Message{Recipient: "not-an-address", Subject: "hi", Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	_, err = adapter.Send(context.Background(), Message{Recipient: "", Subject: "hi", Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}
