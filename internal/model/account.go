// internal/model/account.go
package model

import (
	"github.com/google/uuid"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
}

// AccountInput is the body accepted by the account upsert endpoint.
type AccountInput struct {
	Email    string `json:"email" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SaveAccountResponse is returned by the account upsert endpoint. Token is set
// when the server can issue realtime tokens.
type SaveAccountResponse struct {
	Message string  `json:"message"`
	User    Account `json:"user"`
	Token   string  `json:"token,omitempty"`
}
