package dto

// RunDueWorkResponse reports what an externally triggered batch run did
type RunDueWorkResponse struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}
