// Package handler exposes the review commands and queries as a JSON API for
// staff tools, plus the live review event stream.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"reviewbot/backend/internal/analysis"
	"reviewbot/backend/internal/decision"
	"reviewbot/backend/internal/logger"
	"reviewbot/backend/internal/models"
	"reviewbot/backend/internal/review"
	"reviewbot/backend/internal/reviewhub"
)

// Commands are the staff review commands.
type Commands interface {
	Decide(ctx context.Context, d review.Decision, appID, actorID, reason string) (*decision.Reply, error)
	RequestInfo(ctx context.Context, appID, actorID, question string) (*decision.Reply, error)
	Claim(ctx context.Context, appID, reviewerID string) (*decision.Reply, error)
	Unclaim(ctx context.Context, appID, actorID, reason string) (*decision.Reply, error)
	Unblock(ctx context.Context, guildID, userID, actorID, reason string) (*decision.Reply, error)
}

// Queries are the read-only review queries.
type Queries interface {
	GetApplication(ctx context.Context, appID string) (*models.Application, error)
	CurrentClaim(ctx context.Context, appID string) (*models.Claim, error)
	ListPending(ctx context.Context, guildID string) ([]models.Application, error)
	History(ctx context.Context, appID string) ([]models.ReviewAction, error)
	GuildActions(ctx context.Context, guildID string, window time.Duration) ([]models.ReviewAction, error)
}

// Intake is used by the application form frontend to file applications on
// behalf of applicants.
type Intake interface {
	StartApplication(ctx context.Context, guildID, userID string, answers []string) (*models.Application, error)
	SubmitTx(ctx context.Context, appID, applicantID string, answers []string) (*review.TxResult, error)
	SetSupportThread(ctx context.Context, appID, actorID, threadID string) error
}

// Handler holds the services behind the API routes.
type Handler struct {
	Commands    Commands
	Queries     Queries
	Intake      Intake
	Hub         *reviewhub.ManagerService
	secret      []byte
	statsWindow time.Duration
}

func NewHandler(commands Commands, queries Queries, hub *reviewhub.ManagerService, secret []byte, statsWindow time.Duration) *Handler {
	return &Handler{
		Commands:    commands,
		Queries:     queries,
		Hub:         hub,
		secret:      secret,
		statsWindow: statsWindow,
	}
}

// WithIntake enables the intake routes.
func (h *Handler) WithIntake(i Intake) *Handler {
	h.Intake = i
	return h
}

// Register mounts every route on r. metrics may be nil.
func (h *Handler) Register(r *gin.Engine, metrics http.Handler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	r.GET("/ws/events", h.ServeEvents)

	api := r.Group("/api", h.RequireStaff())
	{
		api.GET("/applications/:id", h.GetApplication)
		api.GET("/applications/:id/history", h.History)
		api.POST("/applications/:id/claim", h.Claim)
		api.POST("/applications/:id/unclaim", h.Unclaim)
		api.POST("/applications/:id/approve", h.decide(review.DecisionApprove))
		api.POST("/applications/:id/reject", h.decide(review.DecisionReject))
		api.POST("/applications/:id/permreject", h.decide(review.DecisionPermReject))
		api.POST("/applications/:id/kick", h.decide(review.DecisionKick))
		api.POST("/applications/:id/needinfo", h.RequestInfo)

		api.GET("/guilds/:guild/pending", h.ListPending)
		api.GET("/guilds/:guild/stats", h.Stats)
		api.POST("/guilds/:guild/users/:user/unblock", h.Unblock)
	}
	if h.Intake != nil {
		api.POST("/guilds/:guild/applications", h.StartApplication)
		api.POST("/applications/:id/submit", h.Submit)
		api.PUT("/applications/:id/thread", h.SetSupportThread)
	}
}

type commandRequest struct {
	Reason   string `json:"reason"`
	Question string `json:"question"`
}

// bindCommand accepts an empty body.
func bindCommand(c *gin.Context) (commandRequest, bool) {
	var req commandRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return req, false
	}
	return req, true
}

func (h *Handler) decide(d review.Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindCommand(c)
		if !ok {
			return
		}
		reply, err := h.Commands.Decide(c.Request.Context(), d, c.Param("id"), staffID(c), req.Reason)
		h.respond(c, reply, err)
	}
}

func (h *Handler) RequestInfo(c *gin.Context) {
	req, ok := bindCommand(c)
	if !ok {
		return
	}
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	reply, err := h.Commands.RequestInfo(c.Request.Context(), c.Param("id"), staffID(c), req.Question)
	h.respond(c, reply, err)
}

func (h *Handler) Claim(c *gin.Context) {
	reply, err := h.Commands.Claim(c.Request.Context(), c.Param("id"), staffID(c))
	h.respond(c, reply, err)
}

func (h *Handler) Unclaim(c *gin.Context) {
	req, ok := bindCommand(c)
	if !ok {
		return
	}
	reply, err := h.Commands.Unclaim(c.Request.Context(), c.Param("id"), staffID(c), req.Reason)
	h.respond(c, reply, err)
}

func (h *Handler) Unblock(c *gin.Context) {
	req, ok := bindCommand(c)
	if !ok {
		return
	}
	reply, err := h.Commands.Unblock(c.Request.Context(), c.Param("guild"), c.Param("user"), staffID(c), req.Reason)
	h.respond(c, reply, err)
}

// respond renders a command reply. A guard denial is a 409; every other
// expected outcome is a 200 with the outcome in the body.
func (h *Handler) respond(c *gin.Context, reply *decision.Reply, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if reply.Denied() {
		status = http.StatusConflict
	}
	c.JSON(status, reply)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, review.ErrApplicationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
	case errors.Is(err, review.ErrMissingActor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, review.ErrActiveApplication):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, review.ErrPermanentlyRejected), errors.Is(err, review.ErrNotApplicant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		logger.Error("review API request failed", "path", c.FullPath(), "staff_id", staffID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

type applicationView struct {
	Application *models.Application `json:"application"`
	Claim       *models.Claim       `json:"claim,omitempty"`
}

func (h *Handler) GetApplication(c *gin.Context) {
	ctx := c.Request.Context()
	app, err := h.Queries.GetApplication(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	claim, err := h.Queries.CurrentClaim(ctx, app.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, applicationView{Application: app, Claim: claim})
}

func (h *Handler) History(c *gin.Context) {
	actions, err := h.Queries.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (h *Handler) ListPending(c *gin.Context) {
	apps, err := h.Queries.ListPending(c.Request.Context(), c.Param("guild"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

// Stats returns reviewer statistics. The days query parameter overrides the
// configured window.
func (h *Handler) Stats(c *gin.Context) {
	window := h.statsWindow
	if raw := c.Query("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}
	actions, err := h.Queries.GuildActions(c.Request.Context(), c.Param("guild"), window)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window_days": int(window / (24 * time.Hour)), "reviewers": analysis.Reviewers(actions)})
}
