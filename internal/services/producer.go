package services

import (
	"context"

	types "github.com/lumenchat/lumen-backend/internal/domain"
)

// ProducerMessage is one turn of conversation context sent to the model
// gateway.
type ProducerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ProducerRequest struct {
	Model    string            `json:"model,omitempty"`
	Messages []ProducerMessage `json:"messages"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// ProducerClient drains one model response as an ordered event sequence.
// An error from onEvent aborts the drain and surfaces to the caller.
type ProducerClient interface {
	StreamResponse(ctx context.Context, req ProducerRequest, onEvent func(ev types.Event) error) error
}
