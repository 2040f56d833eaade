package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/leadpulse/sequence-engine/models"
)

// EmailConfig carries the SMTP settings for the email adapter
type EmailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	SkipTLS     bool
}

// EmailAdapter delivers sequence steps over SMTP
type EmailAdapter struct {
	cfg    EmailConfig
	dialer *gomail.Dialer
}

// NewEmailAdapter builds the SMTP adapter. The dialer is created once and
// reused; gomail opens a fresh connection per DialAndSend.
func NewEmailAdapter(cfg EmailConfig) *EmailAdapter {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.SkipTLS {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &EmailAdapter{cfg: cfg, dialer: d}
}

func (a *EmailAdapter) Channel() models.ChannelType {
	return models.ChannelTypeEmail
}

// Send validates the recipient address, then delivers the rendered message.
// Format failures are permanent; dial and send failures are transient since
// SMTP trouble is usually the server, not the address.
func (a *EmailAdapter) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient(err)
	}
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		return Result{}, Permanent(fmt.Errorf("email send: empty recipient"))
	}
	if err := checkmail.ValidateFormat(recipient); err != nil {
		return Result{}, Permanent(fmt.Errorf("email send: invalid address %q: %w", recipient, err))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), a.cfg.Host)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", a.cfg.FromAddress, a.cfg.FromName)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	if replyTo, ok := msg.Data["reply_to"]; ok && replyTo != "" {
		m.SetHeader("Reply-To", replyTo)
	}
	m.SetBody("text/html", msg.Body)

	if err := a.dialer.DialAndSend(m); err != nil {
		return Result{}, Transient(fmt.Errorf("email send to %s: %w", recipient, err))
	}

	return Result{MessageID: messageID, Status: DeliveryStatusSent}, nil
}
