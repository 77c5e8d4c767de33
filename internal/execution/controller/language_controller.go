package controller

import (
	"coderunner/internal/execution/language"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// LanguageController serves the language catalog.
type LanguageController struct {
	registry *language.Registry
}

func NewLanguageController(registry *language.Registry) *LanguageController {
	return &LanguageController{registry: registry}
}

// Search autocompletes a language by id or name prefix. Without q the full
// catalog is listed.
func (h *LanguageController) Search(c *gin.Context) {
	q, hasQuery := c.GetQuery("q")
	var langs []language.Language
	if hasQuery {
		langs = h.registry.Search(q, language.DefaultSearchLimit)
	} else {
		langs = h.registry.List()
	}

	out := make([]LanguageResponse, 0, len(langs))
	for _, l := range langs {
		out = append(out, LanguageResponse{ID: l.ID, Name: l.Name, Extension: l.Extension, Runner: l.Runner})
	}
	response.Success(c, out)
}

type LanguageResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Runner    string `json:"runner"`
}
