package registry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes a Ledger over the registry HTTP contract.
type Handler struct {
	ledger *Ledger
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a new registry handler and wires ledger events to hub.
func NewHandler(ledger *Ledger, hub *Hub, logger *zap.Logger) *Handler {
	ledger.Subscribe(hub.Publish)
	return &Handler{
		ledger: ledger,
		hub:    hub,
		logger: logger,
	}
}

// RegisterRoutes registers registry routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	v1 := router.Group("/v1")
	{
		v1.GET("/info", h.getInfo)

		v1.POST("/validators", h.registerValidator)
		v1.GET("/validators/:id", h.getValidator)
		v1.GET("/validators/:id/pending", h.listPending)
		v1.GET("/validators/:id/events", h.events)

		v1.POST("/goals", h.putGoal)
		v1.GET("/goals/:id", h.getGoal)

		v1.POST("/requests", h.submitProof)
		v1.GET("/requests/:id", h.getRequest)
		v1.POST("/requests/:id/votes", h.castVote)
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"code": codeFor(err), "error": err.Error()})
}

// getInfo handles GET /v1/info
func (h *Handler) getInfo(c *gin.Context) {
	policy := h.ledger.Policy()
	c.JSON(http.StatusOK, ContractInfo{
		Version:            ContractVersion,
		Quorum:             policy.Quorum,
		ApprovalConfidence: policy.ApprovalConfidence,
	})
}

type registerValidatorRequest struct {
	Address string `json:"address" binding:"required"`
}

// registerValidator handles POST /v1/validators
func (h *Handler) registerValidator(c *gin.Context) {
	var req registerValidatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, h.ledger.RegisterValidator(req.Address))
}

// getValidator handles GET /v1/validators/:id
func (h *Handler) getValidator(c *gin.Context) {
	info, err := h.ledger.Validator(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "unknown_validator", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// listPending handles GET /v1/validators/:id/pending
func (h *Handler) listPending(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.ListPendingFor(c.Param("id")))
}

// events handles GET /v1/validators/:id/events (WebSocket)
func (h *Handler) events(c *gin.Context) {
	if err := h.hub.HandleConnection(c.Writer, c.Request, c.Param("id")); err != nil {
		h.logger.Warn("Failed to open event feed", zap.Error(err))
	}
}

// putGoal handles POST /v1/goals
func (h *Handler) putGoal(c *gin.Context) {
	var g Goal
	if err := c.ShouldBindJSON(&g); err != nil || g.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": "goal id is required"})
		return
	}
	h.ledger.PutGoal(g)
	c.JSON(http.StatusCreated, g)
}

// getGoal handles GET /v1/goals/:id
func (h *Handler) getGoal(c *gin.Context) {
	g, err := h.ledger.Goal(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

type submitProofRequest struct {
	GoalID      string   `json:"goal_id" binding:"required"`
	SubmitterID string   `json:"submitter_id"`
	ProofRef    string   `json:"proof_ref" binding:"required"`
	Validators  []string `json:"validators" binding:"required"`
	TTLSeconds  int      `json:"ttl_seconds"`
}

// submitProof handles POST /v1/requests
func (h *Handler) submitProof(c *gin.Context) {
	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	created, err := h.ledger.SubmitProof(req.GoalID, req.SubmitterID, req.ProofRef, req.Validators, ttl)
	if err != nil {
		if errors.Is(err, ErrUnknownGoal) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}
	h.logger.Info("Verification request created",
		zap.Uint64("request_id", created.ID),
		zap.String("goal_id", created.GoalID),
		zap.Strings("validators", created.SelectedValidators))
	c.JSON(http.StatusCreated, created)
}

// getRequest handles GET /v1/requests/:id
func (h *Handler) getRequest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, ErrUnknownRequest)
		return
	}
	req, err := h.ledger.Request(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// castVote handles POST /v1/requests/:id/votes
func (h *Handler) castVote(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, ErrUnknownRequest)
		return
	}
	var vote SignedVote
	if err := c.ShouldBindJSON(&vote); err != nil || vote.Ballot.RequestID != id {
		h.fail(c, ErrInvalidVote)
		return
	}

	ack, err := h.ledger.SubmitVote(vote)
	if err != nil {
		h.logger.Info("Vote rejected",
			zap.Uint64("request_id", id),
			zap.String("validator", vote.Ballot.ValidatorID),
			zap.Error(err))
		h.fail(c, err)
		return
	}
	h.logger.Info("Vote accepted",
		zap.Uint64("request_id", id),
		zap.String("validator", vote.Ballot.ValidatorID),
		zap.String("status", string(ack.Status)))
	c.JSON(http.StatusOK, ack)
}
