package controller

import (
	"io"
	"net/http"
	"time"

	"coderunner/internal/execution/render"
	"coderunner/internal/execution/sink"
	"coderunner/pkg/utils/logger"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OutputController reads rendered outputs back from the sink.
type OutputController struct {
	store sink.Store
}

func NewOutputController(store sink.Store) *OutputController {
	return &OutputController{store: store}
}

// Get returns one stored output. Attachment contents are served by File.
func (h *OutputController) Get(c *gin.Context) {
	out, err := h.store.Load(c.Request.Context(), sink.Handle(c.Param("handle")))
	if err != nil {
		response.Error(c, err)
		return
	}

	files := make([]OutputFileResponse, 0, len(out.Presentation.Files))
	for _, f := range out.Presentation.Files {
		files = append(files, OutputFileResponse{Name: f.Name, Offloaded: f.Key != ""})
	}
	response.Success(c, OutputResponse{
		Handle:    string(out.Handle),
		TriggerID: out.TriggerID,
		Status:    out.Presentation.Status,
		Content:   out.Presentation.Content,
		Fields:    out.Presentation.Fields,
		Files:     files,
		UpdatedAt: out.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// File streams one attachment.
func (h *OutputController) File(c *gin.Context) {
	name := c.Param("name")
	rc, err := h.store.OpenFile(c.Request.Context(), sink.Handle(c.Param("handle")), name)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		logger.Warn(c.Request.Context(), "stream attachment failed", zap.String("name", name), zap.Error(err))
	}
}

type OutputFileResponse struct {
	Name      string `json:"name"`
	Offloaded bool   `json:"offloaded"`
}

type OutputResponse struct {
	Handle    string               `json:"handle"`
	TriggerID string               `json:"trigger_id"`
	Status    string               `json:"status,omitempty"`
	Content   string               `json:"content,omitempty"`
	Fields    []render.Field       `json:"fields,omitempty"`
	Files     []OutputFileResponse `json:"files,omitempty"`
	UpdatedAt string               `json:"updated_at"`
}
