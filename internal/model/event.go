// internal/model/event.go
package model

import (
	"github.com/google/uuid"
)

const OperationInsert = "insert"

// ChangeEvent describes one write observed on the message store.
type ChangeEvent struct {
	Operation string    `json:"operationType"`
	MessageID uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
}

// Notification is the bus payload. Subscribers must not depend on its contents.
type Notification struct {
	Change ChangeEvent `json:"change"`
}
