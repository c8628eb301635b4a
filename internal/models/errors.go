package models

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Detail    string            `json:"detail,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// MessageResponse is the plain `{message}` body used for confirmations and
// for the speech endpoint's failure reply.
type MessageResponse struct {
	Message string `json:"message"`
}
