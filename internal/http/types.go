package http

// ChatRequest is the body of POST /chat and POST /chat/sync.
type ChatRequest struct {
	Text        string   `json:"text"`
	ChatHistory []string `json:"chat_history"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}
