package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"

	"github.com/jonesrussell/ocrbase/internal/domain"
)

const maxSchemaNameLength = 100

// SchemaRepository is implemented by *database.SchemaRepository.
type SchemaRepository interface {
	Insert(ctx context.Context, s *domain.Schema) error
	GetByID(ctx context.Context, orgID, id string) (*domain.Schema, error)
	List(ctx context.Context, orgID string) ([]*domain.Schema, error)
	Delete(ctx context.Context, orgID, id string) error
}

type SchemasHandler struct {
	repo SchemaRepository
}

func NewSchemasHandler(repo SchemaRepository) *SchemasHandler {
	return &SchemasHandler{repo: repo}
}

type createSchemaRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	JSONSchema  json.RawMessage `json:"jsonSchema"`
}

func (r *createSchemaRequest) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return domain.InvalidInput("name is required")
	}
	if len(r.Name) > maxSchemaNameLength {
		return domain.InvalidInput("name must be at most %d characters", maxSchemaNameLength)
	}

	var doc map[string]any
	if err := json.Unmarshal(r.JSONSchema, &doc); err != nil || doc == nil {
		return domain.InvalidInput("jsonSchema must be a JSON object")
	}
	if t, ok := doc["type"]; ok && t != "object" {
		return domain.InvalidInput(`jsonSchema root type must be "object"`)
	}
	return nil
}

// Create handles POST /v1/schemas.
func (h *SchemasHandler) Create(c *gin.Context) {
	var req createSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.InvalidInput("invalid JSON body"))
		return
	}
	if err := req.validate(); err != nil {
		respondError(c, err)
		return
	}

	o := owner(c)
	s := &domain.Schema{
		ID:             domain.NewSchemaID(),
		OrganizationID: o.OrganizationID,
		UserID:         o.UserID,
		Name:           req.Name,
		Description:    req.Description,
		JSONSchema:     types.JSONText(req.JSONSchema),
	}
	if err := h.repo.Insert(c.Request.Context(), s); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// List handles GET /v1/schemas.
func (h *SchemasHandler) List(c *gin.Context) {
	schemas, err := h.repo.List(c.Request.Context(), owner(c).OrganizationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schemas)
}

// Get handles GET /v1/schemas/:id.
func (h *SchemasHandler) Get(c *gin.Context) {
	s, err := h.repo.GetByID(c.Request.Context(), owner(c).OrganizationID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Delete handles DELETE /v1/schemas/:id.
func (h *SchemasHandler) Delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), owner(c).OrganizationID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
