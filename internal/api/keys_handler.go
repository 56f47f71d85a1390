package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/ocrbase/internal/apikey"
	"github.com/jonesrussell/ocrbase/internal/domain"
)

// KeyService is implemented by *apikey.Store.
type KeyService interface {
	Create(ctx context.Context, owner domain.Owner, name string) (*apikey.Created, error)
	List(ctx context.Context, orgID string) ([]*domain.APIKey, error)
	GetUsage(ctx context.Context, orgID, id string) (*domain.APIKeyUsageReport, error)
	Revoke(ctx context.Context, orgID, id string) error
	Delete(ctx context.Context, orgID, id string) error
}

type KeysHandler struct {
	keys KeyService
}

func NewKeysHandler(keys KeyService) *KeysHandler {
	return &KeysHandler{keys: keys}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse is the only place the plaintext secret ever appears.
type createKeyResponse struct {
	*domain.APIKey
	Key string `json:"key"`
}

// Create handles POST /v1/keys.
func (h *KeysHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.InvalidInput("invalid JSON body"))
		return
	}
	created, err := h.keys.Create(c.Request.Context(), owner(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createKeyResponse{APIKey: created.Key, Key: created.Secret})
}

// List handles GET /v1/keys.
func (h *KeysHandler) List(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context(), owner(c).OrganizationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// Usage handles GET /v1/keys/:id/usage.
func (h *KeysHandler) Usage(c *gin.Context) {
	report, err := h.keys.GetUsage(c.Request.Context(), owner(c).OrganizationID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Revoke handles POST /v1/keys/:id/revoke.
func (h *KeysHandler) Revoke(c *gin.Context) {
	if err := h.keys.Revoke(c.Request.Context(), owner(c).OrganizationID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /v1/keys/:id.
func (h *KeysHandler) Delete(c *gin.Context) {
	if err := h.keys.Delete(c.Request.Context(), owner(c).OrganizationID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
