package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "messenger/docs"
	"messenger/internal/auth"
	"messenger/internal/metrics"
	"messenger/internal/model"
)

func (a *API) Router() http.Handler {
	a.Routers.Use(middleware.RequestID)
	a.Routers.Use(middleware.Recoverer)
	a.Routers.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// Public
	a.Routers.Get("/", a.Hello)
	a.Routers.Post("/save/messages", a.SaveMessage)
	a.Routers.Get("/retrieve/conversation", a.RetrieveConversation)
	a.Routers.Post("/api/users/save", a.SaveUser)
	a.Routers.Handle("/metrics", metrics.Handler())
	a.Routers.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Secured
	a.Routers.Group(func(r chi.Router) {
		r.Use(a.Issuer.Middleware)
		r.Get("/realtime", a.Realtime)
	})

	return a.Routers
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// @Summary Health greeting
// @Produce plain
// @Success 200 {string} string
// @Router / [get]
func (a *API) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("hello this is a messenger backend"))
}

// @Summary Save a message
// @Description Appends a message. The body is stored as sent, empty text included.
// @Tags Messages
// @Accept json
// @Produce json
// @Param body body model.MessageInput true "Message"
// @Success 201 {object} model.Message
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /save/messages [post]
func (a *API) SaveMessage(w http.ResponseWriter, r *http.Request) {
	var in model.MessageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		metrics.MessagesIngested.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request body"})
		return
	}
	a.Log.Debug("Message received", "username", in.Author, "message", in.Body, "timestamp", in.SentAt.String())

	m, err := a.Messages.InsertMessage(r.Context(), in)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues("error").Inc()
		a.Log.Error("Failed to save message", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save message"})
		return
	}

	metrics.MessagesIngested.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, m)
}

// @Summary Retrieve the conversation
// @Description Returns every message ordered by timestamp, ties in insertion order.
// @Tags Messages
// @Produce json
// @Success 200 {array} model.Message
// @Failure 500 {object} errorResponse
// @Router /retrieve/conversation [get]
func (a *API) RetrieveConversation(w http.ResponseWriter, r *http.Request) {
	messages, err := a.Messages.ListMessages(r.Context())
	if err != nil {
		a.Log.Error("Failed to retrieve conversation", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to retrieve conversation"})
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// @Summary Save or update a user
// @Description Upserts the account keyed by email. The password is stored as a bcrypt hash.
// @Tags Users
// @Accept json
// @Produce json
// @Param body body model.AccountInput true "Account"
// @Success 200 {object} model.SaveAccountResponse
// @Failure 400 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /api/users/save [post]
func (a *API) SaveUser(w http.ResponseWriter, r *http.Request) {
	var in model.AccountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request body"})
		return
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if err := a.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "email, username and password are required"})
		return
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		a.Log.Error("Failed to hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to save user"})
		return
	}

	account, err := a.Accounts.UpsertAccount(r.Context(), model.Account{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
	})
	if err != nil {
		a.Log.Error("Error saving user", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to save user"})
		return
	}

	resp := model.SaveAccountResponse{Message: "User saved successfully", User: account}
	if a.Issuer.Enabled() {
		if resp.Token, err = a.Issuer.GenerateToken(account.ID.String(), account.Username); err != nil {
			a.Log.Warn("Failed to issue realtime token", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// @Summary Realtime relay
// @Description Upgrades to a websocket that forwards every notification bus event.
// @Tags Realtime
// @Security ApiKeyAuth
// @Param token query string false "Realtime token, alternative to the Authorization header"
// @Success 101
// @Failure 401 {string} string
// @Failure 503 {object} errorResponse
// @Router /realtime [get]
func (a *API) Realtime(w http.ResponseWriter, r *http.Request) {
	if a.Relay == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "realtime updates unavailable"})
		return
	}
	a.Relay.ServeHTTP(w, r)
}
