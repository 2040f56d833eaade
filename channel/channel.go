// Package channel defines the uniform adapter contract the engine uses to
// transmit messages, one implementation per delivery channel.
package channel

import (
	"context"

	"github.com/leadpulse/sequence-engine/models"
)

// Message is a fully rendered outbound message for one recipient
type Message struct {
	// Recipient is the channel-specific address: an email address, a
	// phone number, a social handle.
	Recipient string

	Subject string
	Body    string

	// Data carries channel-specific parameters from the step definition,
	// e.g. the voice agent id for call steps.
	Data map[string]string
}

// DeliveryStatus is the synchronous status an adapter reports for a send
type DeliveryStatus string

const (
	// DeliveryStatusSent means the provider accepted the message
	DeliveryStatusSent DeliveryStatus = "sent"
	// DeliveryStatusDelivered means the provider confirmed delivery synchronously
	DeliveryStatusDelivered DeliveryStatus = "delivered"
)

// Result reports the outcome of an accepted send
type Result struct {
	// MessageID is the provider-assigned id used to correlate later
	// webhook events back to the step execution.
	MessageID string
	Status    DeliveryStatus
}

// Adapter transmits one message on one channel. Implementations are
// stateless from the engine's point of view and must honor ctx deadlines;
// the executor classifies a deadline overrun as transient.
type Adapter interface {
	Channel() models.ChannelType
	Send(ctx context.Context, msg Message) (Result, error)
}
