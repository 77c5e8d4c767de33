package controller

import (
	"context"
	"strings"
	"time"

	"coderunner/internal/execution/invokation"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultWaitTimeout = 90 * time.Second

// TriggerController handles trigger HTTP endpoints.
type TriggerController struct {
	service     *invokation.Service
	waitTimeout time.Duration
}

// NewTriggerController creates a new TriggerController. waitTimeout bounds
// how long a submit with wait=true blocks.
func NewTriggerController(service *invokation.Service, waitTimeout time.Duration) *TriggerController {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &TriggerController{service: service, waitTimeout: waitTimeout}
}

// Submit handles a new or edited trigger.
func (h *TriggerController) Submit(c *gin.Context) {
	triggerID := strings.TrimSpace(c.Param("id"))
	if triggerID == "" {
		response.BadRequest(c, "Invalid trigger id")
		return
	}
	var req SubmitTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	trig, err := invokation.ParseRequest(invokation.Request{
		TriggerID: triggerID,
		Language:  req.Language,
		Code:      req.Code,
		Stdin:     req.Stdin,
		Options:   req.Options,
		Args:      req.Args,
		Compact:   req.Compact,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	inv, err := h.service.Submit(c.Request.Context(), trig)
	if err != nil {
		response.Error(c, err)
		return
	}

	if c.Query("wait") != "true" {
		response.Accepted(c, SubmitTriggerResponse{
			InvokationID: inv.ID,
			TriggerID:    inv.TriggerID,
			Language:     inv.Language.ID,
			State:        string(inv.State()),
		})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
	defer cancel()
	snap, err := h.service.Wait(ctx, triggerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// Get returns the state of the current invokation of a trigger.
func (h *TriggerController) Get(c *gin.Context) {
	snap, err := h.service.Snapshot(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, snap)
}

// Toggle flips the visibility of one output stream.
func (h *TriggerController) Toggle(c *gin.Context) {
	p, err := h.service.Toggle(c.Request.Context(), c.Param("id"), c.Param("stream"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

// Delete cancels a trigger and removes its output.
func (h *TriggerController) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SubmitTriggerRequest is the body of a trigger submission. Options and
// arguments use shell quoting.
type SubmitTriggerRequest struct {
	Language string `json:"language" binding:"required"`
	Code     string `json:"code"`
	Stdin    string `json:"stdin"`
	Options  string `json:"options"`
	Args     string `json:"args"`
	Compact  bool   `json:"compact"`
}

type SubmitTriggerResponse struct {
	InvokationID string `json:"invokation_id"`
	TriggerID    string `json:"trigger_id"`
	Language     string `json:"language"`
	State        string `json:"state"`
}
