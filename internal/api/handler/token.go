package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/avralabs/chatlink/internal/api/response"
	"github.com/avralabs/chatlink/internal/security"
)

var validate = validator.New()

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	WidgetID string `json:"widgetId" validate:"required,min=1,max=128"`
	Origin   string `json:"origin" validate:"omitempty,url"`
}

// TokenHandler mints widget connection tokens
type TokenHandler struct {
	jwtManager *security.JWTManager
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(jwtManager *security.JWTManager) *TokenHandler {
	return &TokenHandler{jwtManager: jwtManager}
}

// Issue handles token requests
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var input TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			errors := make(map[string]string)
			for _, e := range validationErrors {
				errors[e.Field()] = "validation failed on " + e.Tag()
			}
			response.BadRequest(w, errors)
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	token, err := h.jwtManager.GenerateToken(input.WidgetID, input.Origin)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	response.OK(w, map[string]string{"token": token})
}
