package types

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Pending []string          `json:"pending,omitempty"`
}

type HealthResponse struct {
	OK         bool   `json:"ok"`
	ServerTime string `json:"server_time"`
}
