package models

// ===== HTTP RESPONSE ENVELOPES =====

type ErrorResponse struct {
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
