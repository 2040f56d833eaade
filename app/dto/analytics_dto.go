package dto

// GetSequenceAnalyticsRequest represents the request to read per-step counters
type GetSequenceAnalyticsRequest struct {
	UUID           string `json:"-"`
	OrganizationID uint   `json:"-"`
}

// StepAnalyticsRow represents the counters of one step, joined with the step
// definition so callers can render a funnel without a second lookup
type StepAnalyticsRow struct {
	StepID    uint    `json:"step_id"`
	Kind      string  `json:"kind"`
	StepIndex int     `json:"step_index"`
	Channel   string  `json:"channel"`
	Sent      int64   `json:"sent"`
	Delivered int64   `json:"delivered"`
	Opened    int64   `json:"opened"`
	Clicked   int64   `json:"clicked"`
	Replied   int64   `json:"replied"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
	ReplyRate float64 `json:"reply_rate"`
}

// GetSequenceAnalyticsResponse represents the response to read per-step counters
type GetSequenceAnalyticsResponse struct {
	Message      string             `json:"message"`
	SequenceUUID string             `json:"sequence_uuid"`
	Steps        []StepAnalyticsRow `json:"steps"`
	Totals       StepAnalyticsRow   `json:"totals"`
}
