package common

// ApiResponse is the envelope returned by all JSON API endpoints
type ApiResponse[T any] struct {
	Data    T      `json:"data"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
