package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/storage"
)

// API is the process scoped context shared by all handlers. It is built once
// at startup; nothing in it is a package level singleton.
type API struct {
	Messages storage.MessageStore
	Accounts storage.AccountStore
	Issuer   *auth.Issuer
	// Relay serves /realtime. It is nil when the notification bus is unavailable.
	Relay    http.Handler
	Cfg      *config.Config
	Log      *slog.Logger
	Routers  *chi.Mux
	validate *validator.Validate
}

func NewAPI(messages storage.MessageStore, accounts storage.AccountStore, issuer *auth.Issuer, relay http.Handler, cfg *config.Config, log *slog.Logger) *API {
	return &API{
		Messages: messages,
		Accounts: accounts,
		Issuer:   issuer,
		Relay:    relay,
		Cfg:      cfg,
		Log:      log,
		Routers:  chi.NewRouter(),
		validate: validator.New(),
	}
}
