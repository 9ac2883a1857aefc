package credentials

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"applypilot-backend/internal/shared/server/middleware"
	"applypilot-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/credentials", h.list)
	rg.PUT("/credentials/:provider", h.put)
	rg.DELETE("/credentials/:provider", h.remove)
}

// list reports linked providers without ever echoing token material.
func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	creds, err := h.Svc.List(c.Request.Context(), userID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list credentials", nil)
		return
	}

	items := make([]gin.H, 0, len(creds))
	for _, cred := range creds {
		item := gin.H{
			"provider":  cred.Provider,
			"usable":    cred.Usable(),
			"updatedAt": cred.UpdatedAt,
		}
		if !cred.Token.Expiry.IsZero() {
			item["expiresAt"] = cred.Token.Expiry
		}
		items = append(items, item)
	}
	respond.JSON(c, http.StatusOK, gin.H{"credentials": items})
}

type putCredentialRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	TokenType    string     `json:"tokenType"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (h *Handler) put(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	provider := c.Param("provider")

	var req putCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	if req.AccessToken == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "accessToken is required", nil)
		return
	}

	token := oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
	}
	if req.ExpiresAt != nil {
		token.Expiry = req.ExpiresAt.UTC()
	}

	cred, err := h.Svc.Put(c.Request.Context(), userID, provider, token)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store credential", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"provider": cred.Provider,
		"usable":   cred.Usable(),
	})
}

func (h *Handler) remove(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	provider := c.Param("provider")

	if err := h.Svc.Delete(c.Request.Context(), userID, provider); err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "credential not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to delete credential", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"deleted": true})
}
