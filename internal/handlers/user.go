package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/markjakearzadon/assetvault-gobackend/internal/auth"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

type UserService interface {
	CreateUser(ctx context.Context, fullName, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	SetPayoutDestination(ctx context.Context, id, destination string) (*models.User, error)
}

type UserHandler struct {
	service UserService
	tokens  *auth.Tokens
	log     *slog.Logger
}

func NewUserHandler(service UserService, tokens *auth.Tokens, log *slog.Logger) *UserHandler {
	return &UserHandler{service: service, tokens: tokens, log: log.With("handler", "user")}
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"fullname"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeValid(w, r, registerLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": user.ID.Hex()})
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeValid(w, r, loginLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	token, err := h.tokens.Issue(auth.Identity{UserID: user.ID.Hex(), Role: user.Role})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (h *UserHandler) SetPayoutDestination(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayoutDestination string `json:"payout_destination"`
	}
	if err := decodeValid(w, r, payoutDestinationLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.service.SetPayoutDestination(r.Context(), identity(r).UserID, req.PayoutDestination)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
