package errors

// APIError is the OpenAI-compatible error envelope returned by the
// completion surface. Admin endpoints answer with plain {"error": ...}
// bodies instead; this shape is only for routes OpenAI clients call.
type APIError struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, a coarse error type, and an optional
// machine-readable code.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code"`
}

// NewAPIError creates a new APIError with the given message, type and
// optional code. An empty code is encoded as null.
func NewAPIError(message, errType, code string) *APIError {
	detail := ErrorDetail{
		Message: message,
		Type:    errType,
	}
	if code != "" {
		detail.Code = &code
	}
	return &APIError{Error: detail}
}
