package handlers

import (
	"net/http"

	"go-tracker/middleware"
	"go-tracker/models"
	"go-tracker/services"
	"go-tracker/utils/errors"
)

type UserHandler struct {
	userService *services.UserService
}

type userResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user"`
}

type usersResponse struct {
	Success bool          `json:"success"`
	Users   []models.User `json:"users"`
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, errors.ErrUnauthorized)
		return
	}

	var input models.LocationInput
	if err := decodeJSON(w, r, &input); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	user, err := h.userService.UpdateLocation(r.Context(), userID, input)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{Success: true, Message: "Location updated successfully", User: user})
}

func (h *UserHandler) GetAllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, usersResponse{Success: true, Users: users})
}

func (h *UserHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, r, errors.ErrUnauthorized)
		return
	}
	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}
