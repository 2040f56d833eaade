package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leadpulse/sequence-engine/models"
)

// ErrLeadNotFound indicates the CRM has no lead with the requested id.
// Enrollments pointing at a missing lead move to error status; the lead
// will not materialize on retry.
var ErrLeadNotFound = errors.New("lead not found")

// Lead is the CRM's view of a contact, reduced to what the engine needs:
// per-channel addresses plus the fields templates substitute from.
type Lead struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	SocialProfile string            `json:"social_profile"`
	Fields        map[string]string `json:"fields"`
}

// LeadService loads leads from the CRM
type LeadService interface {
	GetLead(ctx context.Context, organizationID uint, leadID string) (*Lead, error)
}

// HTTPLeadService implements LeadService against the CRM's HTTP API
type HTTPLeadService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPLeadService creates an HTTP-backed lead service
func NewHTTPLeadService(baseURL, apiKey string, timeout time.Duration) *HTTPLeadService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLeadService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetLead fetches one lead. A 404 maps to ErrLeadNotFound.
func (s *HTTPLeadService) GetLead(ctx context.Context, organizationID uint, leadID string) (*Lead, error) {
	url := fmt.Sprintf("%s/v1/organizations/%d/leads/%s", s.baseURL, organizationID, leadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("lead service: build request: %w", err)
	}
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lead service: fetch %s: %w", leadID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("lead %q: %w", leadID, ErrLeadNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("lead service returned %d: %s", resp.StatusCode, string(body))
	}

	var lead Lead
	if err := json.NewDecoder(resp.Body).Decode(&lead); err != nil {
		return nil, fmt.Errorf("lead service: decode %s: %w", leadID, err)
	}
	return &lead, nil
}

// Recipient returns the lead's address for the given channel, empty when
// the lead has no address for it
func (l *Lead) Recipient(channel models.ChannelType) string {
	switch channel {
	case models.ChannelTypeEmail:
		return l.Email
	case models.ChannelTypeSMS, models.ChannelTypeVoice:
		return l.Phone
	case models.ChannelTypeSocial:
		return l.SocialProfile
	default:
		return ""
	}
}

// TemplateFields flattens the lead into the substitution map used by the
// template resolver. Custom fields win no conflicts: the well-known keys
// are written last.
func (l *Lead) TemplateFields() map[string]string {
	fields := make(map[string]string, len(l.Fields)+4)
	for k, v := range l.Fields {
		fields[k] = v
	}
	fields["lead_id"] = l.ID
	if l.Email != "" {
		fields["email"] = l.Email
	}
	if l.Phone != "" {
		fields["phone"] = l.Phone
	}
	return fields
}
