package scoring

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides the HTTP surface for single-shot scoring.
type Handler struct {
	service *Service
}

// NewHandler creates a scoring handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scoring routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/score", h.ScoreTransaction)
	r.GET("/scores/recent", h.RecentScores)
	r.GET("/models", h.Models)
}

// scoreRequest keeps the transaction payload raw so a missing key and a
// malformed value list get distinct status codes.
type scoreRequest struct {
	Transaction json.RawMessage `json:"transaction"`
}

// ScoreTransaction handles POST /v1/score.
//
// Contract: missing transaction key → 400 with a fixed message; any framing
// or scoring failure → 500 with the error text; success → 200 with one
// label per ensemble member.
func (h *Handler) ScoreTransaction(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Transaction) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction data is missing"})
		return
	}

	var values []float64
	if err := json.Unmarshal(req.Transaction, &values); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction must be an array of numbers"})
		return
	}
	if len(values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Transaction data is missing"})
		return
	}

	verdict, err := h.service.ScoreValues(c.Request.Context(), values)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prediction": verdict})
}

// RecentScores handles GET /v1/scores/recent.
func (h *Handler) RecentScores(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	scores, err := h.service.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recent scores"})
		return
	}
	if scores == nil {
		scores = []*ScoredTransaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"scores": scores,
		"count":  len(scores),
	})
}

// Models handles GET /v1/models: the ensemble roster.
func (h *Handler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.service.Members()})
}
