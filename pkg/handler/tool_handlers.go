// Tool registry HTTP handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/tools"
)

// ToolHandler exposes the tool registry over HTTP.
type ToolHandler struct{}

// NewToolHandler creates a new tool handler.
func NewToolHandler() *ToolHandler {
	return &ToolHandler{}
}

// RegisterRoutes registers tool routes.
func (h *ToolHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tools", h.ListTools)
}

// toolInfo is the API view of a tool definition. The approval predicate is
// input-dependent, so mayRequireApproval is a hint, not a guarantee.
type toolInfo struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	Category           string        `json:"category"`
	Modes              []models.Mode `json:"modes,omitempty"`
	MayRequireApproval bool          `json:"mayRequireApproval"`
}

// ListTools lists registered tool definitions, optionally filtered by mode.
// GET /api/tools?mode=debug
func (h *ToolHandler) ListTools(c *gin.Context) {
	var defs []tools.ToolDefinition
	if modeParam := c.Query("mode"); modeParam != "" {
		mode, err := models.ParseMode(modeParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defs = tools.ListToolDefinitionsForMode(mode)
	} else {
		defs = tools.ListToolDefinitions()
	}

	infos := make([]toolInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, toolInfo{
			ID:                 string(def.ID),
			Name:               def.Name,
			Description:        def.Description,
			Category:           string(def.Category),
			Modes:              def.Modes,
			MayRequireApproval: def.RequiresApproval != nil,
		})
	}

	c.JSON(http.StatusOK, gin.H{"tools": infos})
}
