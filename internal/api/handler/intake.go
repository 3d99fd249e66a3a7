package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type startRequest struct {
	UserID  string   `json:"user_id" binding:"required"`
	Answers []string `json:"answers"`

	// Submit files the application immediately instead of leaving a draft.
	Submit bool `json:"submit"`
}

type submitRequest struct {
	UserID  string   `json:"user_id" binding:"required"`
	Answers []string `json:"answers"`
}

type threadRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
}

func (h *Handler) StartApplication(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	ctx := c.Request.Context()
	app, err := h.Intake.StartApplication(ctx, c.Param("guild"), req.UserID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.Submit {
		tx, err := h.Intake.SubmitTx(ctx, app.ID, req.UserID, nil)
		if err != nil {
			h.fail(c, err)
			return
		}
		app = tx.Application
	}
	c.JSON(http.StatusCreated, gin.H{"application": app})
}

func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	tx, err := h.Intake.SubmitTx(c.Request.Context(), c.Param("id"), req.UserID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *Handler) SetSupportThread(c *gin.Context) {
	var req threadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "thread_id is required"})
		return
	}
	if err := h.Intake.SetSupportThread(c.Request.Context(), c.Param("id"), staffID(c), req.ThreadID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
