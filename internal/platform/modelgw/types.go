package modelgw

// Message is one turn of producer input, oldest first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one model response to stream. Metadata rides through
// to the gateway untouched.
type Request struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Stream   bool           `json:"stream"`
}
