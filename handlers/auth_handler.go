package handlers

import (
	"net/http"

	"go-tracker/middleware"
	"go-tracker/models"
	"go-tracker/services"
	"go-tracker/utils/errors"
)

type AuthHandler struct {
	authService *services.AuthService
}

type loginResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	User    models.PublicUser `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if input.Token == "" {
		middleware.WriteError(w, r, errors.NewAPIError(errors.ErrInvalidInput.Code, "token is required", http.StatusBadRequest))
		return
	}

	res, err := h.authService.GoogleLogin(r.Context(), input.Token)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, loginResponse{Success: true, Token: res.Token, User: res.User})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, errors.ErrUnauthorized)
		return
	}
	if err := h.authService.Logout(r.Context(), userID); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}
