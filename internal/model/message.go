// internal/model/message.go
package model

import (
	"github.com/google/uuid"
)

// Message is a persisted chat message. It is never mutated once written.
type Message struct {
	ID     uuid.UUID `json:"_id"`
	Author string    `json:"username"`
	Body   string    `json:"message"`
	SentAt SentAt    `json:"timestamp"`
	// Seq is the store insertion order. It breaks ties between equal SentAt values.
	Seq int64 `json:"-"`
}

// MessageInput is the body accepted by the ingest endpoint.
type MessageInput struct {
	Author string `json:"username"`
	Body   string `json:"message"`
	SentAt SentAt `json:"timestamp"`
}
